package correlator

import (
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/permissions"
)

// Source labels which provider boundary an event crossed.
type Source string

const (
	SourceVoice     Source = "voice"
	SourceMessaging Source = "messaging"
)

// Kind is the normalized event kind. Each kind maps to exactly one
// mutation; webhook adapters are responsible for producing a total
// mapping from raw payloads into one of these kinds or an error.
type Kind string

const (
	// KindInboundCall announces a call arriving at our number. The only
	// kind allowed to create a Call implicitly.
	KindInboundCall Kind = "inbound_call"

	// KindCallStatus carries a provider status transition for a known call.
	KindCallStatus Kind = "call_status"

	// KindRecording announces a finished recording for a known call.
	KindRecording Kind = "recording"

	// KindConference carries a bridge-lifecycle occurrence, resolved by
	// conference name rather than provider call id.
	KindConference Kind = "conference"

	// KindConsentReply is a structured customer reply to a consent
	// prompt. Routed exclusively to the permission ledger.
	KindConsentReply Kind = "consent_reply"

	// KindMessageStatus reports delivery progress of an outbound message.
	// Only a failed delivery of a consent prompt mutates anything.
	KindMessageStatus Kind = "message_status"
)

// ProviderEvent is one normalized occurrence delivered by a webhook
// adapter. Fields are populated per kind; unused fields stay zero.
type ProviderEvent struct {
	Source Source `json:"source"`
	Kind   Kind   `json:"kind"`

	// ExternalEventID is the provider's identifier for this delivery,
	// used for dedupe under at-least-once delivery. Required for every
	// call-scoped kind.
	ExternalEventID string `json:"external_event_id"`

	ProviderCallID string `json:"provider_call_id,omitempty"`
	ConferenceName string `json:"conference_name,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Status is the already-normalized call status for KindCallStatus.
	Status calls.CallStatus `json:"status,omitempty"`

	ConferenceAction calls.ConferenceAction `json:"conference_action,omitempty"`
	ParticipantRole  calls.ParticipantRole  `json:"participant_role,omitempty"`

	RecordingURL    string `json:"recording_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Reason          string `json:"reason,omitempty"`

	// MessageID and Destination scope messaging events.
	MessageID   string `json:"message_id,omitempty"`
	Destination string `json:"destination,omitempty"`

	// Decision is set for KindConsentReply.
	Decision permissions.Decision `json:"decision,omitempty"`

	// DeliveryFailed is set for KindMessageStatus.
	DeliveryFailed bool `json:"delivery_failed,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`

	// RawPayload is the provider's payload as JSON, kept for the audit log.
	RawPayload string `json:"raw_payload,omitempty"`
}

// Outcome describes what processing an event amounted to.
type Outcome string

const (
	// OutcomeApplied means the mutation was dispatched and committed.
	OutcomeApplied Outcome = "applied"
	// OutcomeCreated means an inbound event created a new Call.
	OutcomeCreated Outcome = "created"
	// OutcomeDuplicate means the event was already recorded and skipped.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeDropped means no entity matched and nothing was mutated.
	OutcomeDropped Outcome = "dropped"
)

// Result reports how one event was handled.
type Result struct {
	Outcome Outcome
	// CallID is set when the event resolved to a call.
	CallID string
	// PermissionID is set when the event resolved to a permission.
	PermissionID string
}
