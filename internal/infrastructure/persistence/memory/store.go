// Package memory provides process-local stores with the same semantics as the SQL backends.
// Stored values are cloned on the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// TemplateStore implements port.TemplateRepository
type TemplateStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*entity.WorkflowTemplate
}

// NewTemplateStore creates an empty template store
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{byID: make(map[int64]*entity.WorkflowTemplate)}
}

func (s *TemplateStore) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.Code == tpl.Code {
			return fmt.Errorf("%w: template code %q already exists", workflow.ErrValidation, tpl.Code)
		}
	}
	s.nextID++
	tpl.ID = s.nextID
	s.byID[tpl.ID] = tpl.Clone()
	return nil
}

func (s *TemplateStore) Update(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[tpl.ID]; !ok {
		return fmt.Errorf("%w: template %d", workflow.ErrNotFound, tpl.ID)
	}
	s.byID[tpl.ID] = tpl.Clone()
	return nil
}

func (s *TemplateStore) GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: template %d", workflow.ErrNotFound, id)
	}
	return tpl.Clone(), nil
}

func (s *TemplateStore) GetByCode(ctx context.Context, code string) (*entity.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tpl := range s.byID {
		if tpl.Code == code {
			return tpl.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: template %q", workflow.ErrNotFound, code)
}

func (s *TemplateStore) FindByFilter(ctx context.Context, filter port.TemplateFilter) ([]*entity.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.WorkflowTemplate
	for _, tpl := range s.byID {
		if filter.BusinessType != "" && !tpl.BusinessType.Matches(filter.BusinessType) {
			continue
		}
		if filter.WorkflowType != "" && tpl.WorkflowType != filter.WorkflowType {
			continue
		}
		if filter.ActiveOnly && !tpl.IsActive {
			continue
		}
		if filter.At != nil && !tpl.IsEffectiveAt(*filter.At) {
			continue
		}
		out = append(out, tpl.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RequestStore implements port.RequestRepository
type RequestStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*entity.ApprovalRequest
}

// NewRequestStore creates an empty request store
func NewRequestStore() *RequestStore {
	return &RequestStore{byID: make(map[int64]*entity.ApprovalRequest)}
}

func (s *RequestStore) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.RequestNumber == req.RequestNumber {
			return fmt.Errorf("request number %q already exists", req.RequestNumber)
		}
	}
	s.nextID++
	req.ID = s.nextID
	req.Version = 1
	s.byID[req.ID] = req.Clone()
	return nil
}

func (s *RequestStore) GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: request %d", workflow.ErrNotFound, id)
	}
	return req.Clone(), nil
}

func (s *RequestStore) GetByNumber(ctx context.Context, requestNumber string) (*entity.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.byID {
		if req.RequestNumber == requestNumber {
			return req.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: request %q", workflow.ErrNotFound, requestNumber)
}

func (s *RequestStore) Update(ctx context.Context, req *entity.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[req.ID]
	if !ok {
		return fmt.Errorf("%w: request %d", workflow.ErrNotFound, req.ID)
	}
	if stored.Version != req.Version {
		return fmt.Errorf("%w: request %d is at version %d, write was based on %d",
			workflow.ErrConcurrentModification, req.ID, stored.Version, req.Version)
	}
	req.Version++
	s.byID[req.ID] = req.Clone()
	return nil
}

func (s *RequestStore) FindPendingForApprover(ctx context.Context, userID string, businessType entity.BusinessType) ([]*entity.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.ApprovalRequest
	for _, req := range s.byID {
		if businessType != "" && req.BusinessType != businessType {
			continue
		}
		for _, id := range req.PendingApproverIDs() {
			if id == userID {
				out = append(out, req.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RequestStore) ListInProgress(ctx context.Context, afterID int64, limit int) ([]*entity.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.ApprovalRequest
	for _, req := range s.byID {
		if req.ID > afterID && req.Status == entity.RequestStatusInProgress {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SequenceStore implements port.SequenceGenerator
type SequenceStore struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewSequenceStore creates an empty counter set
func NewSequenceStore() *SequenceStore {
	return &SequenceStore{values: make(map[string]int64)}
}

func (s *SequenceStore) Next(ctx context.Context, businessType entity.BusinessType, code string, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%d", businessType, code, year)
	s.values[key]++
	return s.values[key], nil
}

// TxManager runs fn directly; the memory stores are individually atomic.
type TxManager struct{}

func (TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var (
	_ port.TemplateRepository = (*TemplateStore)(nil)
	_ port.RequestRepository  = (*RequestStore)(nil)
	_ port.SequenceGenerator  = (*SequenceStore)(nil)
	_ port.TransactionManager = TxManager{}
)
