package workflow

// Trigger represents an event that can cause a status transition
type Trigger string

const (
	TriggerSubmit   Trigger = "SUBMIT"
	TriggerAdvance  Trigger = "ADVANCE"
	TriggerComplete Trigger = "COMPLETE"
	TriggerReject   Trigger = "REJECT"
	TriggerCancel   Trigger = "CANCEL"
	TriggerHold     Trigger = "HOLD"
	TriggerResume   Trigger = "RESUME"
	TriggerResubmit Trigger = "RESUBMIT"
	TriggerEscalate Trigger = "ESCALATE"
	TriggerDelegate Trigger = "DELEGATE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
