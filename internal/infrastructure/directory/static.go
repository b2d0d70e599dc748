// Package directory resolves approver roles from a static member list.
package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// Member is one principal with the roles it holds and the departments it belongs to
type Member struct {
	UserID      string   `yaml:"user_id" json:"user_id"`
	Email       string   `yaml:"email" json:"email,omitempty"`
	Roles       []string `yaml:"roles" json:"roles"`
	Departments []string `yaml:"departments" json:"departments"`
}

// StaticDirectory implements port.ApproverDirectory over an in-memory member list
type StaticDirectory struct {
	mu      sync.RWMutex
	members []Member
}

// NewStaticDirectory creates a directory from members
func NewStaticDirectory(members []Member) *StaticDirectory {
	d := &StaticDirectory{}
	d.Replace(members)
	return d
}

// Replace swaps the member list atomically
func (d *StaticDirectory) Replace(members []Member) {
	cp := append([]Member(nil), members...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].UserID < cp[j].UserID })
	d.mu.Lock()
	d.members = cp
	d.mu.Unlock()
}

// Resolve returns user IDs holding role in department, sorted by user ID.
// department "*" matches everyone holding the role.
func (d *StaticDirectory) Resolve(ctx context.Context, role, department string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string
	for _, m := range d.members {
		if !contains(m.Roles, role) {
			continue
		}
		if department != entity.AnyDepartment && !contains(m.Departments, department) {
			continue
		}
		out = append(out, m.UserID)
	}
	return out, nil
}

// Email returns the member's e-mail address, if known
func (d *StaticDirectory) Email(userID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.members {
		if m.UserID == userID {
			return m.Email
		}
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var _ port.ApproverDirectory = (*StaticDirectory)(nil)
