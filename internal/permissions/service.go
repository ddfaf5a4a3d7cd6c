package permissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbridge/internal/config"
	"callbridge/internal/notify"
	"callbridge/pkg/logger"

	"github.com/google/uuid"
)

// Service is the permission ledger: it owns consent state for
// (contact, destination) pairs and encodes the provider's calling
// policy as data rather than checks scattered across call sites.
//
// Policy invariants enforced here:
// - Request rate: at most DailyCap requests per rolling 24h and
//   WeeklyCap per rolling 7d for one (contact, destination).
// - Usage: at most MaxCalls calls per grant.
// - MissedCallThreshold consecutive unanswered calls expire a grant.

var (
	ErrInvalidArgument    = errors.New("permissions: invalid argument")
	ErrRateLimited        = errors.New("permissions: request rate limited")
	ErrNoPendingRequest   = errors.New("permissions: no pending request")
	ErrPermissionRequired = errors.New("permissions: approved permission required")
)

// Policy carries the consent policy knobs.
type Policy struct {
	DailyCap            int
	WeeklyCap           int
	TTL                 time.Duration
	MaxCalls            int
	MissedCallThreshold int
}

func PolicyFromConfig(cfg config.PolicyConfig) Policy {
	return Policy{
		DailyCap:            cfg.PermissionDailyCap,
		WeeklyCap:           cfg.PermissionWeeklyCap,
		TTL:                 cfg.PermissionTTL,
		MaxCalls:            cfg.MaxCallsPerPermission,
		MissedCallThreshold: cfg.MissedCallThreshold,
	}
}

// ConsentSender dispatches the consent prompt over the messaging channel.
type ConsentSender interface {
	SendConsentPrompt(ctx context.Context, destination, templateRef string) (string, error)
}

// Notifier receives digests of permission state changes. Best-effort.
type Notifier interface {
	Broadcast(ev notify.Event)
}

type Service struct {
	repo     Repository
	limiter  RateLimiter
	sender   ConsentSender
	notifier Notifier
	policy   Policy
	template string

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, limiter RateLimiter, sender ConsentSender, notifier Notifier, policy Policy, consentTemplate string) *Service {
	return &Service{
		repo:     repo,
		limiter:  limiter,
		sender:   sender,
		notifier: notifier,
		policy:   policy,
		template: consentTemplate,
		clock:    time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id string) (CallPermission, error) {
	if id == "" {
		return CallPermission{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, id)
}

// Request creates a pending permission for (contact, destination) and
// dispatches the consent prompt.
//
// The rate windows are checked-and-consumed atomically: under concurrent
// requests for the same pair, at most the capped number of pending
// permissions is created. If the prompt dispatch fails the permission is
// marked failed, never left pending silently.
func (s *Service) Request(ctx context.Context, contactID, destination string) (CallPermission, error) {
	if contactID == "" || destination == "" {
		return CallPermission{}, ErrInvalidArgument
	}

	key := "perm:req:" + contactID + ":" + destination
	ok, err := s.limiter.Allow(ctx, key, []Window{
		{Span: 24 * time.Hour, Limit: s.policy.DailyCap},
		{Span: 7 * 24 * time.Hour, Limit: s.policy.WeeklyCap},
	})
	if err != nil {
		return CallPermission{}, fmt.Errorf("rate limiter: %w", err)
	}
	if !ok {
		return CallPermission{}, ErrRateLimited
	}

	now := s.clock().UTC()
	p := CallPermission{
		ID:          uuid.NewString(),
		ContactID:   contactID,
		Destination: destination,
		Status:      StatusPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(s.policy.TTL),
		MaxCalls:    s.policy.MaxCalls,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return CallPermission{}, err
	}

	msgID, sendErr := s.sender.SendConsentPrompt(ctx, destination, s.template)
	if sendErr != nil {
		logger.From(ctx).Error("consent prompt dispatch failed",
			"permission_id", p.ID, "destination", destination, "err", sendErr)
		failed, err := s.repo.Update(ctx, p.ID, func(p *CallPermission) error {
			p.Status = StatusFailed
			return nil
		})
		if err != nil {
			return CallPermission{}, err
		}
		s.broadcast(failed)
		return failed, fmt.Errorf("consent prompt dispatch failed: %w", sendErr)
	}

	p, err = s.repo.Update(ctx, p.ID, func(p *CallPermission) error {
		p.MessageID = msgID
		return nil
	})
	if err != nil {
		return CallPermission{}, err
	}
	s.broadcast(p)
	return p, nil
}

// RecordResponse applies a customer decision to the most recent pending
// permission for the destination. A response with no matching pending
// request never creates or mutates anything else.
func (s *Service) RecordResponse(ctx context.Context, destination string, decision Decision) (CallPermission, error) {
	if destination == "" {
		return CallPermission{}, ErrInvalidArgument
	}
	if decision != DecisionApproved && decision != DecisionRejected {
		return CallPermission{}, ErrInvalidArgument
	}

	pending, ok, err := s.repo.LatestPending(ctx, destination)
	if err != nil {
		return CallPermission{}, err
	}
	if !ok {
		return CallPermission{}, ErrNoPendingRequest
	}

	now := s.clock().UTC()

	if decision == DecisionApproved {
		// Hold the single-approved invariant: an older grant for the same
		// pair is retired before the new one becomes approved.
		if prev, found, err := s.repo.Approved(ctx, pending.ContactID, destination); err != nil {
			return CallPermission{}, err
		} else if found {
			if _, err := s.repo.Update(ctx, prev.ID, func(p *CallPermission) error {
				p.Status = StatusExpired
				return nil
			}); err != nil {
				return CallPermission{}, err
			}
		}
	}

	p, err := s.repo.Update(ctx, pending.ID, func(p *CallPermission) error {
		if p.Status != StatusPending {
			return ErrNoPendingRequest
		}
		if decision == DecisionApproved {
			p.Status = StatusApproved
		} else {
			p.Status = StatusRejected
		}
		t := now
		p.RespondedAt = &t
		return nil
	})
	if err != nil {
		return CallPermission{}, err
	}
	s.broadcast(p)
	return p, nil
}

// RecordDeliveryFailure marks the pending permission for the destination
// as failed when the consent prompt could not be delivered. The messageID,
// when known, must match the prompt we sent; a mismatch is treated as an
// unrelated message and ignored. Returns false when nothing was pending.
func (s *Service) RecordDeliveryFailure(ctx context.Context, destination, messageID string) (CallPermission, bool, error) {
	if destination == "" {
		return CallPermission{}, false, ErrInvalidArgument
	}
	pending, ok, err := s.repo.LatestPending(ctx, destination)
	if err != nil {
		return CallPermission{}, false, err
	}
	if !ok {
		return CallPermission{}, false, nil
	}
	if messageID != "" && pending.MessageID != "" && pending.MessageID != messageID {
		return CallPermission{}, false, nil
	}

	p, err := s.repo.Update(ctx, pending.ID, func(p *CallPermission) error {
		if p.Status != StatusPending {
			return ErrNoPendingRequest
		}
		p.Status = StatusFailed
		return nil
	})
	if err != nil {
		return CallPermission{}, false, err
	}
	s.broadcast(p)
	return p, true, nil
}

// CanPlaceCall is the pure call-placement predicate.
func (s *Service) CanPlaceCall(p CallPermission, now time.Time) bool {
	return p.Status == StatusApproved &&
		now.Before(p.ExpiresAt) &&
		p.CallsUsed < p.MaxCalls &&
		p.ConsecutiveMissed < s.policy.MissedCallThreshold
}

// Authorize returns the usable approved permission for (contact,
// destination) or ErrPermissionRequired. An approved grant whose TTL
// has elapsed is lazily expired here.
func (s *Service) Authorize(ctx context.Context, contactID, destination string) (CallPermission, error) {
	if contactID == "" || destination == "" {
		return CallPermission{}, ErrInvalidArgument
	}
	p, ok, err := s.repo.Approved(ctx, contactID, destination)
	if err != nil {
		return CallPermission{}, err
	}
	if !ok {
		return CallPermission{}, ErrPermissionRequired
	}

	now := s.clock().UTC()
	if !now.Before(p.ExpiresAt) {
		expired, err := s.repo.Update(ctx, p.ID, func(p *CallPermission) error {
			if p.Status == StatusApproved {
				p.Status = StatusExpired
			}
			return nil
		})
		if err != nil {
			return CallPermission{}, err
		}
		s.broadcast(expired)
		return CallPermission{}, ErrPermissionRequired
	}
	if !s.CanPlaceCall(p, now) {
		return CallPermission{}, ErrPermissionRequired
	}
	return p, nil
}

// ConsumeCall counts one placed call against the grant. It re-checks the
// cap under the row lock so concurrent dials cannot exceed max_calls.
func (s *Service) ConsumeCall(ctx context.Context, id string) (CallPermission, error) {
	if id == "" {
		return CallPermission{}, ErrInvalidArgument
	}
	return s.repo.Update(ctx, id, func(p *CallPermission) error {
		if p.Status != StatusApproved {
			return ErrPermissionRequired
		}
		if p.CallsUsed >= p.MaxCalls {
			return ErrPermissionRequired
		}
		p.CallsUsed++
		return nil
	})
}

// RecordOutcome applies a call outcome to the grant: a connect resets the
// consecutive-missed counter, an unanswered call increments it and expires
// the grant at the threshold.
func (s *Service) RecordOutcome(ctx context.Context, id string, outcome Outcome) (CallPermission, error) {
	if id == "" {
		return CallPermission{}, ErrInvalidArgument
	}
	threshold := s.policy.MissedCallThreshold
	p, err := s.repo.Update(ctx, id, func(p *CallPermission) error {
		switch outcome {
		case OutcomeConnected:
			p.ConsecutiveMissed = 0
		case OutcomeMissed:
			p.ConsecutiveMissed++
			if p.ConsecutiveMissed >= threshold && p.Status == StatusApproved {
				p.Status = StatusExpired
			}
		default:
			return ErrInvalidArgument
		}
		return nil
	})
	if err != nil {
		return CallPermission{}, err
	}
	s.broadcast(p)
	return p, nil
}

// ExpireStale retires pending and approved permissions whose TTL has
// elapsed. Intended to run from a periodic sweep.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	now := s.clock().UTC()
	overdue, err := s.repo.ListOverdue(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range overdue {
		updated, err := s.repo.Update(ctx, p.ID, func(p *CallPermission) error {
			if p.Status == StatusPending || p.Status == StatusApproved {
				p.Status = StatusExpired
			}
			return nil
		})
		if err != nil {
			logger.From(ctx).Warn("permission expiry sweep failed", "permission_id", p.ID, "err", err)
			continue
		}
		if updated.Status == StatusExpired {
			n++
			s.broadcast(updated)
		}
	}
	return n, nil
}

func (s *Service) broadcast(p CallPermission) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(notify.Event{
		Kind:         notify.EventKindPermission,
		PermissionID: p.ID,
		Status:       string(p.Status),
		OccurredAt:   s.clock().UTC(),
	})
}
