package workflow

import (
	"fmt"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// CheckInvariants verifies the structural rules every persisted request must satisfy.
// It returns the first violation found.
func CheckInvariants(req *entity.ApprovalRequest) error {
	if req.TotalLevels != len(req.ApprovalChain) {
		return fmt.Errorf("total levels %d does not match chain length %d", req.TotalLevels, len(req.ApprovalChain))
	}
	if req.CurrentLevel < 1 || req.CurrentLevel > req.TotalLevels {
		return fmt.Errorf("current level %d outside [1, %d]", req.CurrentLevel, req.TotalLevels)
	}
	if req.ResubmissionCount != len(req.PreviousVersions) {
		return fmt.Errorf("resubmission count %d but %d previous versions", req.ResubmissionCount, len(req.PreviousVersions))
	}
	if req.IsEscalated && req.EscalationDate == nil {
		return fmt.Errorf("escalated without escalation date")
	}
	finished := req.Status == entity.RequestStatusApproved ||
		req.Status == entity.RequestStatusRejected ||
		req.Status == entity.RequestStatusCancelled
	if finished != (req.CompletedDate != nil) {
		return fmt.Errorf("request %s with completed date set = %v", req.Status, req.CompletedDate != nil)
	}

	inProgress := 0
	for i, level := range req.ApprovalChain {
		if level.Level != i+1 {
			return fmt.Errorf("level at index %d is numbered %d", i, level.Level)
		}
		if level.ReceivedApprovals > level.RequiredApprovals {
			return fmt.Errorf("level %d received %d > required %d", level.Level, level.ReceivedApprovals, level.RequiredApprovals)
		}
		if level.RequiredApprovals > len(level.Approvers) {
			return fmt.Errorf("level %d requires %d of %d approvers", level.Level, level.RequiredApprovals, len(level.Approvers))
		}
		if level.Status == entity.LevelStatusInProgress {
			inProgress++
		}

		switch {
		case level.Level < req.CurrentLevel:
			if !level.Status.IsComplete() {
				return fmt.Errorf("level %d before current level is %s", level.Level, level.Status)
			}
		case level.Level > req.CurrentLevel:
			if level.Status != entity.LevelStatusPending {
				return fmt.Errorf("level %d after current level is %s", level.Level, level.Status)
			}
		}
	}
	if inProgress > 1 {
		return fmt.Errorf("%d levels in progress", inProgress)
	}

	current := req.CurrentChainLevel()
	switch req.Status {
	case entity.RequestStatusInProgress, entity.RequestStatusOnHold:
		if current.Status != entity.LevelStatusInProgress {
			return fmt.Errorf("request %s but current level is %s", req.Status, current.Status)
		}
	case entity.RequestStatusApproved:
		for _, level := range req.ApprovalChain {
			if !level.Status.IsComplete() {
				return fmt.Errorf("approved request has level %d %s", level.Level, level.Status)
			}
		}
	case entity.RequestStatusRejected:
		if current.Status != entity.LevelStatusRejected {
			return fmt.Errorf("rejected request but current level is %s", current.Status)
		}
	}
	return nil
}
