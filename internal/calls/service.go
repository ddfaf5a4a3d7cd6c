package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbridge/internal/notify"
	"callbridge/internal/permissions"
	"callbridge/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrValidation = errors.New("calls: invalid input")

	// ErrDialFailed wraps a telephony dial failure; the call is left in
	// failed status with the error recorded in its event log.
	ErrDialFailed = errors.New("calls: outbound dial failed")
)

// Dialer is the telephony collaborator used for outbound legs.
// Implementations own their network timeouts; the service never holds an
// entity's serialization scope across these calls.
type Dialer interface {
	Dial(ctx context.Context, from, to string) (providerCallID string, err error)
	Terminate(ctx context.Context, providerCallID string) error
	Bridge(ctx context.Context, conferenceName, providerCallID, agentAddress string) error
}

// PermissionGate is the consent check consulted before any outbound dial.
type PermissionGate interface {
	Authorize(ctx context.Context, contactID, destination string) (permissions.CallPermission, error)
	ConsumeCall(ctx context.Context, permissionID string) (permissions.CallPermission, error)
	RecordOutcome(ctx context.Context, permissionID string, outcome permissions.Outcome) (permissions.CallPermission, error)
}

// ContactResolver maps a counterpart address onto a CRM contact.
type ContactResolver interface {
	FindOrCreateContact(ctx context.Context, name, address string) (contactID string, err error)
}

// ActivitySummary is the call digest synced to the CRM on a terminal status.
type ActivitySummary struct {
	CallID          string    `json:"call_id"`
	Direction       string    `json:"direction"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Notes           string    `json:"notes,omitempty"`
}

// ActivityLogger is the CRM sync collaborator. Best-effort: failures are
// recorded in the event log and never roll back local state.
type ActivityLogger interface {
	LogCallActivity(ctx context.Context, contactID string, summary ActivitySummary) (activityID string, err error)
}

// Notifier receives digests of call state changes. Best-effort.
type Notifier interface {
	Broadcast(ev notify.Event)
}

// StatusExtra carries optional provider-supplied detail for a status update.
type StatusExtra struct {
	// DurationSeconds is the provider-reported talk time, if any.
	DurationSeconds int
	// Reason is a short provider-reported cause, recorded in the event log.
	Reason string
}

// ConferenceAction is one bridge-lifecycle occurrence.
type ConferenceAction string

const (
	ConferenceStart ConferenceAction = "start"
	ConferenceJoin  ConferenceAction = "join"
	ConferenceLeave ConferenceAction = "leave"
	ConferenceEnd   ConferenceAction = "end"
)

// ParticipantRole labels which leg a conference participant belongs to.
type ParticipantRole string

const (
	RoleAgent    ParticipantRole = "agent"
	RoleCustomer ParticipantRole = "customer"
)

// Service owns the call lifecycle state machine.
//
// Transition rules:
// - Terminal statuses (completed, failed, busy, no_answer, canceled) are
//   absorbing: an update arriving after a terminal status is a no-op.
// - Re-applying the current status is a no-op.
// - Any other transition between non-terminal statuses is accepted, even
//   out of order; the terminal status wins regardless of arrival order.
type Service struct {
	repo     Repository
	perms    PermissionGate
	dialer   Dialer
	contacts ContactResolver
	activity ActivityLogger
	notifier Notifier

	// fromAddress is the business address outbound calls originate from.
	fromAddress string

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, perms PermissionGate, dialer Dialer, contacts ContactResolver, activity ActivityLogger, notifier Notifier, fromAddress string) *Service {
	return &Service{
		repo:        repo,
		perms:       perms,
		dialer:      dialer,
		contacts:    contacts,
		activity:    activity,
		notifier:    notifier,
		fromAddress: fromAddress,
		clock:       time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id string) (Call, error) {
	if id == "" {
		return Call{}, ErrValidation
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	if providerCallID == "" {
		return Call{}, ErrValidation
	}
	return s.repo.GetByProviderCallID(ctx, providerCallID)
}

func (s *Service) GetBySession(ctx context.Context, sessionName string) (Call, error) {
	if sessionName == "" {
		return Call{}, ErrValidation
	}
	return s.repo.GetBySession(ctx, sessionName)
}

func (s *Service) Events(ctx context.Context, callID string) ([]CallEvent, error) {
	if callID == "" {
		return nil, ErrValidation
	}
	return s.repo.ListEvents(ctx, callID)
}

// CreateInbound registers a call arriving from the provider. The contact
// is resolved best-effort; resolution failure never blocks the call.
func (s *Service) CreateInbound(ctx context.Context, from, to, providerCallID string, occurredAt time.Time) (Call, error) {
	if from == "" || to == "" || providerCallID == "" {
		return Call{}, ErrValidation
	}
	now := s.clock().UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}

	contactID := ""
	if s.contacts != nil {
		id, err := s.contacts.FindOrCreateContact(ctx, "", from)
		if err != nil {
			logger.From(ctx).Warn("contact resolution failed", "from", from, "err", err)
		} else {
			contactID = id
		}
	}

	c := Call{
		ID:             uuid.NewString(),
		ProviderCallID: providerCallID,
		Direction:      DirectionInbound,
		Status:         CallStatusRinging,
		FromAddress:    from,
		ToAddress:      to,
		ContactID:      contactID,
		StartedAt:      occurredAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return Call{}, err
	}
	s.appendInternal(ctx, c.ID, EventKindStatus, string(c.Status), "", occurredAt)
	s.broadcast(c, "")
	return c, nil
}

// CreateOutbound places an agent-initiated call. It requires a usable
// approved permission; the usage cap is consumed before the dial so
// concurrent attempts cannot exceed it. The dial happens outside any
// entity lock; its failure leaves the call in failed status.
func (s *Service) CreateOutbound(ctx context.Context, contactID, destination, agentID string) (Call, error) {
	if contactID == "" || destination == "" || agentID == "" {
		return Call{}, ErrValidation
	}

	perm, err := s.perms.Authorize(ctx, contactID, destination)
	if err != nil {
		return Call{}, err
	}

	now := s.clock().UTC()
	c := Call{
		ID:           uuid.NewString(),
		Direction:    DirectionOutbound,
		Status:       CallStatusInitiated,
		FromAddress:  s.fromAddress,
		ToAddress:    destination,
		ContactID:    contactID,
		AgentID:      agentID,
		PermissionID: perm.ID,
		StartedAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return Call{}, err
	}

	if _, err := s.perms.ConsumeCall(ctx, perm.ID); err != nil {
		// Lost the race on the usage cap; the call never dials.
		failed := s.failCall(ctx, c.ID, "permission cap reached")
		s.broadcast(failed, "")
		return failed, err
	}

	providerCallID, dialErr := s.dialer.Dial(ctx, s.fromAddress, destination)
	if dialErr != nil {
		logger.From(ctx).Error("outbound dial failed", "call_id", c.ID, "to", destination, "err", dialErr)
		s.appendInternal(ctx, c.ID, EventKindError, "", fmt.Sprintf(`{"op":"dial","error":%q}`, dialErr.Error()), now)
		failed := s.failCall(ctx, c.ID, dialErr.Error())
		s.broadcast(failed, "")
		return failed, fmt.Errorf("%w: %v", ErrDialFailed, dialErr)
	}

	c, err = s.repo.SetProviderCallID(ctx, c.ID, providerCallID)
	if err != nil {
		return Call{}, err
	}
	s.appendInternal(ctx, c.ID, EventKindDial, string(c.Status), fmt.Sprintf(`{"provider_call_id":%q}`, providerCallID), now)
	s.broadcast(c, "")
	return c, nil
}

func (s *Service) failCall(ctx context.Context, callID, reason string) Call {
	c, err := s.repo.Update(ctx, callID, func(c *Call) error {
		if c.Status.IsTerminal() {
			return nil
		}
		c.Status = CallStatusFailed
		if c.EndedAt == nil {
			t := s.clock().UTC()
			c.EndedAt = &t
		}
		if c.Metadata == nil {
			c.Metadata = map[string]string{}
		}
		c.Metadata[MetaDialError] = reason
		return nil
	})
	if err != nil {
		logger.From(ctx).Error("failed to mark call failed", "call_id", callID, "err", err)
		return Call{ID: callID}
	}
	return c
}

// ApplyStatusUpdate advances the state machine from an observed status.
// It is idempotent: re-delivery of the same status, or any status after a
// terminal one, changes nothing.
func (s *Service) ApplyStatusUpdate(ctx context.Context, callID string, newStatus CallStatus, observedAt time.Time, extra StatusExtra) (Call, error) {
	if callID == "" || !newStatus.Valid() {
		return Call{}, ErrValidation
	}
	now := s.clock().UTC()
	if observedAt.IsZero() {
		observedAt = now
	}

	var changed bool
	var prev CallStatus
	c, err := s.repo.Update(ctx, callID, func(c *Call) error {
		prev = c.Status
		if c.Status == newStatus || c.Status.IsTerminal() {
			return nil
		}
		changed = true
		c.Status = newStatus
		if newStatus.IsTerminal() {
			if c.EndedAt == nil {
				t := observedAt
				c.EndedAt = &t
			}
			if c.DurationSeconds == 0 {
				c.DurationSeconds = callDuration(c, extra.DurationSeconds)
			}
		}
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	if !changed {
		if prev.IsTerminal() && prev != newStatus {
			logger.From(ctx).Debug("status update after terminal ignored",
				"call_id", callID, "current", prev, "ignored", newStatus)
		}
		return c, nil
	}

	s.appendInternal(ctx, c.ID, EventKindStatus, string(newStatus), reasonPayload(extra.Reason), observedAt)
	s.broadcast(c, "")
	s.afterTransition(ctx, c, newStatus)
	return c, nil
}

// afterTransition runs the side effects of a committed transition:
// permission outcome bookkeeping and best-effort CRM sync. Failures here
// never undo the local mutation.
func (s *Service) afterTransition(ctx context.Context, c Call, newStatus CallStatus) {
	if c.Direction == DirectionOutbound && c.PermissionID != "" {
		switch {
		case newStatus == CallStatusInProgress || newStatus == CallStatusCompleted:
			s.recordOutcomeOnce(ctx, c, permissions.OutcomeConnected)
		case newStatus == CallStatusNoAnswer:
			s.recordOutcomeOnce(ctx, c, permissions.OutcomeMissed)
		}
	}
	if newStatus.IsTerminal() {
		s.syncActivity(ctx, c)
	}
}

// recordOutcomeOnce forwards the call outcome to the permission ledger at
// most once per call, guarded by a metadata marker set under the row lock.
func (s *Service) recordOutcomeOnce(ctx context.Context, c Call, outcome permissions.Outcome) {
	claimed := false
	_, err := s.repo.Update(ctx, c.ID, func(c *Call) error {
		if c.Metadata[MetaPermissionOutcome] != "" {
			return nil
		}
		if c.Metadata == nil {
			c.Metadata = map[string]string{}
		}
		c.Metadata[MetaPermissionOutcome] = string(outcome)
		claimed = true
		return nil
	})
	if err != nil {
		logger.From(ctx).Error("outcome marker update failed", "call_id", c.ID, "err", err)
		return
	}
	if !claimed {
		return
	}
	if _, err := s.perms.RecordOutcome(ctx, c.PermissionID, outcome); err != nil {
		logger.From(ctx).Error("permission outcome record failed",
			"call_id", c.ID, "permission_id", c.PermissionID, "outcome", outcome, "err", err)
	}
}

func (s *Service) syncActivity(ctx context.Context, c Call) {
	if s.activity == nil || c.ContactID == "" {
		return
	}
	activityID, err := s.activity.LogCallActivity(ctx, c.ContactID, ActivitySummary{
		CallID:          c.ID,
		Direction:       string(c.Direction),
		Status:          string(c.Status),
		StartedAt:       c.StartedAt,
		DurationSeconds: c.DurationSeconds,
		Notes:           c.Notes,
	})
	if err != nil {
		logger.From(ctx).Warn("crm activity sync failed", "call_id", c.ID, "err", err)
		s.appendInternal(ctx, c.ID, EventKindError, "", fmt.Sprintf(`{"op":"crm_sync","error":%q}`, err.Error()), s.clock().UTC())
		return
	}
	s.appendInternal(ctx, c.ID, EventKindCRMSync, "", fmt.Sprintf(`{"activity_id":%q}`, activityID), s.clock().UTC())
	if _, err := s.repo.Update(ctx, c.ID, func(c *Call) error {
		if c.Metadata == nil {
			c.Metadata = map[string]string{}
		}
		c.Metadata[MetaCRMActivityID] = activityID
		return nil
	}); err != nil {
		logger.From(ctx).Warn("crm activity id update failed", "call_id", c.ID, "err", err)
	}
}

// AttachRecording stores the recording reference. Idempotent; allowed at
// any point in the call's life.
func (s *Service) AttachRecording(ctx context.Context, callID, url string) (Call, error) {
	if callID == "" || url == "" {
		return Call{}, ErrValidation
	}
	changed := false
	c, err := s.repo.Update(ctx, callID, func(c *Call) error {
		if c.RecordingURL == url {
			return nil
		}
		c.RecordingURL = url
		changed = true
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	if changed {
		s.appendInternal(ctx, c.ID, EventKindRecording, "", fmt.Sprintf(`{"url":%q}`, url), s.clock().UTC())
		s.broadcast(c, "recording")
	}
	return c, nil
}

// AddNote appends free-form agent notes to the call.
func (s *Service) AddNote(ctx context.Context, callID, note string) (Call, error) {
	if callID == "" || note == "" {
		return Call{}, ErrValidation
	}
	return s.repo.Update(ctx, callID, func(c *Call) error {
		if c.Notes == "" {
			c.Notes = note
			return nil
		}
		c.Notes += "\n" + note
		return nil
	})
}

// Hangup requests termination at the provider and deterministically marks
// the call completed locally, even when the provider signals failure.
// Idempotent if the call is already terminal.
func (s *Service) Hangup(ctx context.Context, callID string) (Call, error) {
	if callID == "" {
		return Call{}, ErrValidation
	}
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.Status.IsTerminal() {
		return c, nil
	}

	now := s.clock().UTC()
	if c.ProviderCallID != "" {
		if err := s.dialer.Terminate(ctx, c.ProviderCallID); err != nil {
			logger.From(ctx).Warn("provider terminate failed", "call_id", c.ID, "err", err)
			s.appendInternal(ctx, c.ID, EventKindError, "", fmt.Sprintf(`{"op":"terminate","error":%q}`, err.Error()), now)
		}
	}
	s.appendInternal(ctx, c.ID, EventKindHangup, "", "", now)
	return s.ApplyStatusUpdate(ctx, callID, CallStatusCompleted, now, StatusExtra{})
}

// StartBridge asks the provider to bridge the customer leg with the agent
// inside a named conference. Bridge failure is recorded but does not
// change the call status; a later provider event settles it.
func (s *Service) StartBridge(ctx context.Context, callID, agentAddress string) (Call, error) {
	if callID == "" || agentAddress == "" {
		return Call{}, ErrValidation
	}
	conference := "conf-" + callID
	c, err := s.repo.Update(ctx, callID, func(c *Call) error {
		if c.Status.IsTerminal() {
			return ErrValidation
		}
		c.SessionName = conference
		if c.Metadata == nil {
			c.Metadata = map[string]string{}
		}
		c.Metadata[MetaConference] = conference
		return nil
	})
	if err != nil {
		return Call{}, err
	}

	if err := s.dialer.Bridge(ctx, conference, c.ProviderCallID, agentAddress); err != nil {
		logger.From(ctx).Error("bridge request failed", "call_id", c.ID, "conference", conference, "err", err)
		s.appendInternal(ctx, c.ID, EventKindError, "", fmt.Sprintf(`{"op":"bridge","error":%q}`, err.Error()), s.clock().UTC())
		return c, fmt.Errorf("bridge request failed: %w", err)
	}
	s.appendInternal(ctx, c.ID, EventKindConference, string(ConferenceStart), fmt.Sprintf(`{"conference":%q,"agent":%q}`, conference, agentAddress), s.clock().UTC())
	return c, nil
}

// ApplyConferenceEvent folds one bridge-lifecycle occurrence into the call.
// Start, join and leave never change Call.Status; end settles the call as
// completed when the agent leg ever joined, no_answer when it never did.
func (s *Service) ApplyConferenceEvent(ctx context.Context, callID string, action ConferenceAction, role ParticipantRole, occurredAt time.Time) (Call, error) {
	if callID == "" {
		return Call{}, ErrValidation
	}
	now := s.clock().UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}

	switch action {
	case ConferenceStart, ConferenceJoin, ConferenceLeave:
		c, err := s.repo.Update(ctx, callID, func(c *Call) error {
			if c.Metadata == nil {
				c.Metadata = map[string]string{}
			}
			switch {
			case action == ConferenceJoin && role == RoleAgent:
				c.Metadata[MetaAgentLeg] = "joined"
			case action == ConferenceJoin && role == RoleCustomer:
				c.Metadata[MetaCustomerLeg] = "joined"
			case action == ConferenceLeave && role == RoleAgent:
				c.Metadata[MetaAgentLeg] = "left"
			case action == ConferenceLeave && role == RoleCustomer:
				c.Metadata[MetaCustomerLeg] = "left"
			}
			return nil
		})
		if err != nil {
			return Call{}, err
		}
		s.appendInternal(ctx, c.ID, EventKindConference, string(action), fmt.Sprintf(`{"role":%q}`, role), occurredAt)
		return c, nil

	case ConferenceEnd:
		c, err := s.repo.Get(ctx, callID)
		if err != nil {
			return Call{}, err
		}
		s.appendInternal(ctx, callID, EventKindConference, string(action), "", occurredAt)
		// Agent never joined the bridge: the customer was left waiting,
		// so this counts as an unanswered call.
		final := CallStatusCompleted
		if c.Metadata[MetaAgentLeg] == "" {
			final = CallStatusNoAnswer
		}
		return s.ApplyStatusUpdate(ctx, callID, final, occurredAt, StatusExtra{})

	default:
		return Call{}, ErrValidation
	}
}

// AppendEvent writes an externally identified event to the call's log.
// Used by the correlator; replays return ErrDuplicateEvent.
func (s *Service) AppendEvent(ctx context.Context, e CallEvent) error {
	if e.CallID == "" || e.Kind == "" {
		return ErrValidation
	}
	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.AppendEvent(ctx, e)
}

func (s *Service) appendInternal(ctx context.Context, callID, kind, status, payload string, occurredAt time.Time) {
	err := s.AppendEvent(ctx, CallEvent{
		CallID:     callID,
		Kind:       kind,
		Status:     status,
		Payload:    payload,
		OccurredAt: occurredAt,
	})
	if err != nil {
		logger.From(ctx).Warn("event log append failed", "call_id", callID, "kind", kind, "err", err)
	}
}

func (s *Service) broadcast(c Call, detail string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(notify.Event{
		Kind:       notify.EventKindCall,
		CallID:     c.ID,
		Status:     string(c.Status),
		Detail:     detail,
		OccurredAt: s.clock().UTC(),
	})
}

func callDuration(c *Call, providerSeconds int) int {
	if providerSeconds > 0 {
		return providerSeconds
	}
	if c.EndedAt == nil {
		return 0
	}
	d := int(c.EndedAt.Sub(c.StartedAt) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

func reasonPayload(reason string) string {
	if reason == "" {
		return ""
	}
	return fmt.Sprintf(`{"reason":%q}`, reason)
}
