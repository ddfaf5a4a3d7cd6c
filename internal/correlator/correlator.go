package correlator

import (
	"context"
	"errors"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/permissions"
	"callbridge/pkg/logger"
)

var ErrUnknownKind = errors.New("correlator: unknown event kind")

// CallSink is the slice of the call lifecycle manager the correlator
// dispatches to.
type CallSink interface {
	GetByProviderCallID(ctx context.Context, providerCallID string) (calls.Call, error)
	GetBySession(ctx context.Context, sessionName string) (calls.Call, error)
	CreateInbound(ctx context.Context, from, to, providerCallID string, occurredAt time.Time) (calls.Call, error)
	ApplyStatusUpdate(ctx context.Context, callID string, newStatus calls.CallStatus, observedAt time.Time, extra calls.StatusExtra) (calls.Call, error)
	AttachRecording(ctx context.Context, callID, url string) (calls.Call, error)
	ApplyConferenceEvent(ctx context.Context, callID string, action calls.ConferenceAction, role calls.ParticipantRole, occurredAt time.Time) (calls.Call, error)
	AppendEvent(ctx context.Context, e calls.CallEvent) error
}

// ConsentSink is the slice of the permission ledger the correlator
// dispatches to. Consent replies and message statuses never reach the
// call lifecycle manager.
type ConsentSink interface {
	RecordResponse(ctx context.Context, destination string, decision permissions.Decision) (permissions.CallPermission, error)
	RecordDeliveryFailure(ctx context.Context, destination, messageID string) (permissions.CallPermission, bool, error)
}

// Correlator resolves provider events to a Call or CallPermission and
// applies exactly one idempotent mutation per event.
//
// Dedupe happens before dispatch: the event is appended to the call's
// log first, keyed by the provider's event id, and a duplicate append
// short-circuits the mutation. The mutations themselves are idempotent,
// so a crash between append and dispatch at worst re-runs a no-op.
type Correlator struct {
	calls   CallSink
	consent ConsentSink
	clock   func() time.Time
}

func New(callSink CallSink, consentSink ConsentSink) *Correlator {
	return &Correlator{
		calls:   callSink,
		consent: consentSink,
		clock:   time.Now,
	}
}

// Process handles one provider event. Unresolvable events are dropped,
// never guessed at; the only implicit-creation path is an inbound call
// event with no matching Call.
func (c *Correlator) Process(ctx context.Context, ev ProviderEvent) (Result, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = c.clock().UTC()
	}

	switch ev.Kind {
	case KindInboundCall:
		return c.processInbound(ctx, ev)
	case KindCallStatus, KindRecording:
		return c.processCallScoped(ctx, ev)
	case KindConference:
		return c.processConference(ctx, ev)
	case KindConsentReply:
		return c.processConsentReply(ctx, ev)
	case KindMessageStatus:
		return c.processMessageStatus(ctx, ev)
	default:
		return Result{Outcome: OutcomeDropped}, ErrUnknownKind
	}
}

func (c *Correlator) processInbound(ctx context.Context, ev ProviderEvent) (Result, error) {
	if ev.ProviderCallID == "" || ev.From == "" || ev.To == "" {
		return Result{Outcome: OutcomeDropped}, calls.ErrValidation
	}

	existing, err := c.calls.GetByProviderCallID(ctx, ev.ProviderCallID)
	switch {
	case err == nil:
		// Redelivery of the announce event for a call we already hold.
		if err := c.audit(ctx, existing.ID, ev); errors.Is(err, calls.ErrDuplicateEvent) {
			return Result{Outcome: OutcomeDuplicate, CallID: existing.ID}, nil
		} else if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeDuplicate, CallID: existing.ID}, nil

	case errors.Is(err, calls.ErrNotFound):
		created, err := c.calls.CreateInbound(ctx, ev.From, ev.To, ev.ProviderCallID, ev.OccurredAt)
		if errors.Is(err, calls.ErrDuplicateExternalID) {
			// Lost a create race with a concurrent delivery of the same
			// event; the winner owns the call.
			winner, gerr := c.calls.GetByProviderCallID(ctx, ev.ProviderCallID)
			if gerr != nil {
				return Result{}, gerr
			}
			return Result{Outcome: OutcomeDuplicate, CallID: winner.ID}, nil
		}
		if err != nil {
			return Result{}, err
		}
		if err := c.audit(ctx, created.ID, ev); err != nil && !errors.Is(err, calls.ErrDuplicateEvent) {
			logger.From(ctx).Warn("audit append failed", "call_id", created.ID, "err", err)
		}
		return Result{Outcome: OutcomeCreated, CallID: created.ID}, nil

	default:
		return Result{}, err
	}
}

func (c *Correlator) processCallScoped(ctx context.Context, ev ProviderEvent) (Result, error) {
	if ev.ProviderCallID == "" || ev.ExternalEventID == "" {
		return Result{Outcome: OutcomeDropped}, calls.ErrValidation
	}
	call, err := c.calls.GetByProviderCallID(ctx, ev.ProviderCallID)
	if errors.Is(err, calls.ErrNotFound) {
		logger.From(ctx).Warn("event for unknown call dropped",
			"kind", ev.Kind, "provider_call_id", ev.ProviderCallID, "external_event_id", ev.ExternalEventID)
		return Result{Outcome: OutcomeDropped}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if err := c.audit(ctx, call.ID, ev); errors.Is(err, calls.ErrDuplicateEvent) {
		return Result{Outcome: OutcomeDuplicate, CallID: call.ID}, nil
	} else if err != nil {
		return Result{}, err
	}

	switch ev.Kind {
	case KindCallStatus:
		_, err = c.calls.ApplyStatusUpdate(ctx, call.ID, ev.Status, ev.OccurredAt, calls.StatusExtra{
			DurationSeconds: ev.DurationSeconds,
			Reason:          ev.Reason,
		})
	case KindRecording:
		_, err = c.calls.AttachRecording(ctx, call.ID, ev.RecordingURL)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied, CallID: call.ID}, nil
}

func (c *Correlator) processConference(ctx context.Context, ev ProviderEvent) (Result, error) {
	if ev.ConferenceName == "" || ev.ExternalEventID == "" {
		return Result{Outcome: OutcomeDropped}, calls.ErrValidation
	}
	call, err := c.calls.GetBySession(ctx, ev.ConferenceName)
	if errors.Is(err, calls.ErrNotFound) {
		logger.From(ctx).Warn("conference event for unknown session dropped",
			"conference", ev.ConferenceName, "action", ev.ConferenceAction)
		return Result{Outcome: OutcomeDropped}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if err := c.audit(ctx, call.ID, ev); errors.Is(err, calls.ErrDuplicateEvent) {
		return Result{Outcome: OutcomeDuplicate, CallID: call.ID}, nil
	} else if err != nil {
		return Result{}, err
	}

	if _, err := c.calls.ApplyConferenceEvent(ctx, call.ID, ev.ConferenceAction, ev.ParticipantRole, ev.OccurredAt); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied, CallID: call.ID}, nil
}

func (c *Correlator) processConsentReply(ctx context.Context, ev ProviderEvent) (Result, error) {
	if ev.Destination == "" {
		return Result{Outcome: OutcomeDropped}, permissions.ErrInvalidArgument
	}
	p, err := c.consent.RecordResponse(ctx, ev.Destination, ev.Decision)
	if errors.Is(err, permissions.ErrNoPendingRequest) {
		// A reply with nothing pending must never create or mutate an
		// unrelated permission.
		logger.From(ctx).Warn("consent reply with no pending request dropped",
			"destination", ev.Destination, "decision", ev.Decision)
		return Result{Outcome: OutcomeDropped}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied, PermissionID: p.ID}, nil
}

func (c *Correlator) processMessageStatus(ctx context.Context, ev ProviderEvent) (Result, error) {
	if ev.Destination == "" {
		return Result{Outcome: OutcomeDropped}, permissions.ErrInvalidArgument
	}
	if !ev.DeliveryFailed {
		// Sent/delivered/read progress is informational only.
		return Result{Outcome: OutcomeDropped}, nil
	}
	p, matched, err := c.consent.RecordDeliveryFailure(ctx, ev.Destination, ev.MessageID)
	if err != nil {
		return Result{}, err
	}
	if !matched {
		logger.From(ctx).Warn("delivery failure without matching prompt dropped",
			"destination", ev.Destination, "message_id", ev.MessageID)
		return Result{Outcome: OutcomeDropped}, nil
	}
	return Result{Outcome: OutcomeApplied, PermissionID: p.ID}, nil
}

// audit appends the provider event to the call's log, keyed by the
// external event id so redeliveries surface as ErrDuplicateEvent.
func (c *Correlator) audit(ctx context.Context, callID string, ev ProviderEvent) error {
	return c.calls.AppendEvent(ctx, calls.CallEvent{
		CallID:          callID,
		ExternalEventID: ev.ExternalEventID,
		Kind:            auditKind(ev.Kind),
		Status:          string(ev.Status),
		Payload:         ev.RawPayload,
		OccurredAt:      ev.OccurredAt,
	})
}

func auditKind(k Kind) string {
	switch k {
	case KindInboundCall:
		return calls.EventKindDial
	case KindCallStatus:
		return calls.EventKindStatus
	case KindRecording:
		return calls.EventKindRecording
	case KindConference:
		return calls.EventKindConference
	default:
		return calls.EventKindDropped
	}
}
