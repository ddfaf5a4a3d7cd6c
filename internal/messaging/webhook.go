package messaging

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"callbridge/internal/correlator"
	"callbridge/internal/permissions"
)

// The messaging provider posts JSON. Two callback families exist:
// delivery status for messages we sent, and inbound customer replies.
// A consent reply is distinguished from ordinary chatter by a structured
// reply object; everything else is ignored.

type statusPayload struct {
	EventID   string `json:"event_id"`
	MessageID string `json:"message_id"`
	To        string `json:"to"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type replyPayload struct {
	EventID   string `json:"event_id"`
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Reply     *struct {
		Type     string `json:"type"`
		Decision string `json:"decision"`
	} `json:"reply"`
	Timestamp string `json:"timestamp"`
}

// ErrNotConsentReply marks an inbound message that is ordinary chatter,
// not a decision on a consent prompt. Callers drop it silently.
var ErrNotConsentReply = fmt.Errorf("messaging: not a consent reply")

// ParseMessageStatus maps a delivery-status callback.
func ParseMessageStatus(body io.Reader) (correlator.ProviderEvent, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return correlator.ProviderEvent{}, err
	}
	var p statusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return correlator.ProviderEvent{}, fmt.Errorf("messaging: bad status payload: %w", err)
	}
	if p.MessageID == "" || p.To == "" {
		return correlator.ProviderEvent{}, fmt.Errorf("messaging: status payload missing message_id/to")
	}
	failed, err := mapDeliveryStatus(p.Status)
	if err != nil {
		return correlator.ProviderEvent{}, err
	}
	eventID := p.EventID
	if eventID == "" {
		eventID = p.MessageID + ":" + strings.ToLower(p.Status)
	}
	return correlator.ProviderEvent{
		Source:          correlator.SourceMessaging,
		Kind:            correlator.KindMessageStatus,
		ExternalEventID: eventID,
		MessageID:       p.MessageID,
		Destination:     p.To,
		DeliveryFailed:  failed,
		OccurredAt:      parseTimestamp(p.Timestamp),
		RawPayload:      string(raw),
	}, nil
}

// ParseConsentReply maps an inbound message callback. Returns
// ErrNotConsentReply for messages without a structured consent decision.
func ParseConsentReply(body io.Reader) (correlator.ProviderEvent, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return correlator.ProviderEvent{}, err
	}
	var p replyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return correlator.ProviderEvent{}, fmt.Errorf("messaging: bad reply payload: %w", err)
	}
	if p.From == "" {
		return correlator.ProviderEvent{}, fmt.Errorf("messaging: reply payload missing from")
	}
	if p.Reply == nil || p.Reply.Type != "consent" {
		return correlator.ProviderEvent{}, ErrNotConsentReply
	}
	decision, err := mapDecision(p.Reply.Decision)
	if err != nil {
		return correlator.ProviderEvent{}, err
	}
	eventID := p.EventID
	if eventID == "" {
		eventID = p.MessageID + ":reply"
	}
	return correlator.ProviderEvent{
		Source:          correlator.SourceMessaging,
		Kind:            correlator.KindConsentReply,
		ExternalEventID: eventID,
		MessageID:       p.MessageID,
		Destination:     p.From,
		Decision:        decision,
		OccurredAt:      parseTimestamp(p.Timestamp),
		RawPayload:      string(raw),
	}, nil
}

func mapDeliveryStatus(s string) (failed bool, err error) {
	switch strings.ToLower(s) {
	case "sent", "delivered", "read":
		return false, nil
	case "failed", "undelivered":
		return true, nil
	default:
		return false, fmt.Errorf("messaging: unknown delivery status %q", s)
	}
}

func mapDecision(s string) (permissions.Decision, error) {
	switch strings.ToLower(s) {
	case "approved", "accept", "yes":
		return permissions.DecisionApproved, nil
	case "rejected", "decline", "no":
		return permissions.DecisionRejected, nil
	default:
		return "", fmt.Errorf("messaging: unknown consent decision %q", s)
	}
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
