package permissions

import "time"

// CallPermission is one consent grant for calling a contact on a destination
// address.
//
// Invariants:
// - At most one approved permission per (contact_id, destination).
// - calls_used never exceeds max_calls; call placement past the cap is
//   rejected before dialing.
// - Reaching the missed-call threshold forces status expired; only a new
//   request cycle can produce a usable grant again.
// - expires_at is fixed at creation and never extended.
type CallPermission struct {
	ID          string `json:"id" db:"id"`
	ContactID   string `json:"contact_id" db:"contact_id"`
	Destination string `json:"destination" db:"destination"`

	Status Status `json:"status" db:"status"`

	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty" db:"responded_at"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`

	CallsUsed         int `json:"calls_used" db:"calls_used"`
	MaxCalls          int `json:"max_calls" db:"max_calls"`
	ConsecutiveMissed int `json:"consecutive_missed" db:"consecutive_missed"`

	// MessageID is the consent prompt message id at the messaging provider.
	MessageID string `json:"message_id,omitempty" db:"message_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusFailed   Status = "failed"
)

// IsFinal reports whether no further transition is possible.
// Approved is not final: it can still expire on TTL or missed calls.
func (s Status) IsFinal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// Decision is a customer's reply to a consent prompt.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Outcome classifies how an outbound call against a permission ended.
type Outcome string

const (
	// OutcomeConnected means the customer answered.
	OutcomeConnected Outcome = "connected"
	// OutcomeMissed means the call went unanswered.
	OutcomeMissed Outcome = "missed"
)
