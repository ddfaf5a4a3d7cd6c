package calls

import "time"

// Call represents one telephony session between a customer and an agent.
//
// Provider-agnostic core model: the provider's own call identifier lives in
// ProviderCallID and raw provider payloads stay in the event log, not here.
//
// Invariants:
// - ProviderCallID, once set, is immutable and unique across calls.
// - Terminal statuses are absorbing; EndedAt is set exactly once.
// - DurationSeconds is non-negative, set at most once, and never decreases.
// - Calls are never deleted; history lives in the append-only event log.
type Call struct {
	ID string `json:"id" db:"id"`

	// ProviderCallID is assigned asynchronously for outbound calls and may
	// be empty until the dial returns.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Direction Direction  `json:"direction" db:"direction"`
	Status    CallStatus `json:"status" db:"status"`

	FromAddress string `json:"from" db:"from_address"`
	ToAddress   string `json:"to" db:"to_address"`

	ContactID    string `json:"contact_id,omitempty" db:"contact_id"`
	AgentID      string `json:"agent_id,omitempty" db:"agent_id"`
	PermissionID string `json:"permission_id,omitempty" db:"permission_id"`

	// SessionName identifies the conference that bridges the customer and
	// agent legs, when one exists.
	SessionName string `json:"session_name,omitempty" db:"session_name"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is the call duration in seconds.
	DurationSeconds int `json:"duration" db:"duration"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`
	Notes        string `json:"notes,omitempty" db:"notes"`

	// Metadata is a typed key-value map with a closed set of recognized
	// keys; see the Meta* constants.
	Metadata map[string]string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Recognized metadata keys. Anything else is rejected at the API edge.
const (
	MetaConference        = "conference"
	MetaAgentLeg          = "agent_leg"
	MetaCustomerLeg       = "customer_leg"
	MetaDialError         = "dial_error"
	MetaCRMActivityID     = "crm_activity_id"
	MetaPermissionOutcome = "permission_outcome"
)

// RecognizedMetaKey reports whether k belongs to the closed metadata key set.
func RecognizedMetaKey(k string) bool {
	switch k {
	case MetaConference, MetaAgentLeg, MetaCustomerLeg, MetaDialError, MetaCRMActivityID, MetaPermissionOutcome:
		return true
	default:
		return false
	}
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusCanceled   CallStatus = "canceled"
)

// IsTerminal reports whether no transition out of s is permitted.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status value.
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusInitiated, CallStatusRinging, CallStatusInProgress,
		CallStatusCompleted, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// CallEvent is one append-only log entry tied to a call. Entries are
// immutable once written and ordered by arrival.
type CallEvent struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	// ExternalEventID is the provider's event identifier; it is the
	// dedupe key for at-least-once webhook delivery. Empty for
	// internally generated entries.
	ExternalEventID string `json:"external_event_id,omitempty" db:"external_event_id"`

	Kind   string `json:"kind" db:"kind"`
	Status string `json:"status,omitempty" db:"status"`

	// Payload is the raw provider payload or an internal detail, as JSON.
	Payload string `json:"payload,omitempty" db:"payload"`

	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Event kinds written by the service and correlator.
const (
	EventKindStatus     = "status"
	EventKindDial       = "dial"
	EventKindHangup     = "hangup"
	EventKindRecording  = "recording"
	EventKindConference = "conference"
	EventKindDropped    = "dropped"
	EventKindError      = "collaborator_error"
	EventKindCRMSync    = "crm_sync"
)
