package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// requestTable holds every status change a request may make
var requestTable = func() *TransitionTable {
	b := NewBuilder()

	b.From(StatePending).
		To(TriggerSubmit, StateInProgress).
		To(TriggerCancel, StateCancelled)

	// level-internal moves keep the request In Progress
	b.From(StateInProgress).
		Stay(TriggerAdvance).
		Stay(TriggerEscalate).
		Stay(TriggerDelegate).
		To(TriggerComplete, StateApproved).
		To(TriggerReject, StateRejected).
		To(TriggerCancel, StateCancelled).
		To(TriggerHold, StateOnHold)

	b.From(StateOnHold).
		To(TriggerResume, StateInProgress).
		To(TriggerCancel, StateCancelled)

	b.From(StateRejected).
		To(TriggerResubmit, StatePending)

	b.From(StateReturned).
		To(TriggerResubmit, StatePending).
		To(TriggerCancel, StateCancelled)

	// APPROVED and CANCELLED have no outgoing edges
	return b.Table()
}()

// RequestStateMachine starts a lifecycle machine at initial
func RequestStateMachine(initial State) (StateMachine, error) {
	return requestTable.Machine(initial)
}

// transition fires trigger against the request status and stores the result.
// Disallowed transitions surface as ErrState.
func transition(req *entity.ApprovalRequest, trigger Trigger) error {
	sm, err := RequestStateMachine(State(req.Status))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrState, err)
	}
	if err := sm.Fire(context.Background(), trigger); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return fmt.Errorf("%w: request %s is %s, cannot %s", ErrState, req.RequestNumber, req.Status, trigger)
		}
		return err
	}
	req.Status = entity.RequestStatus(sm.State())
	return nil
}
