package messaging

import (
	"errors"
	"strings"
	"testing"

	"callbridge/internal/correlator"
	"callbridge/internal/permissions"
)

func TestParseMessageStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		wantFailed bool
	}{
		{"sent", "sent", false},
		{"delivered", "delivered", false},
		{"read", "read", false},
		{"failed", "failed", true},
		{"undelivered", "undelivered", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"message_id":"msg-1","to":"+15551234567","status":"` + tt.status + `"}`
			ev, err := ParseMessageStatus(strings.NewReader(body))
			if err != nil {
				t.Fatalf("ParseMessageStatus: %v", err)
			}
			if ev.Kind != correlator.KindMessageStatus {
				t.Errorf("kind = %s", ev.Kind)
			}
			if ev.DeliveryFailed != tt.wantFailed {
				t.Errorf("failed = %v, want %v", ev.DeliveryFailed, tt.wantFailed)
			}
			if ev.Destination != "+15551234567" || ev.MessageID != "msg-1" {
				t.Errorf("identity = %+v", ev)
			}
		})
	}
}

func TestParseMessageStatusRejectsUnknown(t *testing.T) {
	_, err := ParseMessageStatus(strings.NewReader(`{"message_id":"msg-1","to":"+15551","status":"vanished"}`))
	if err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestParseMessageStatusDerivesEventID(t *testing.T) {
	ev, err := ParseMessageStatus(strings.NewReader(`{"message_id":"msg-1","to":"+15551","status":"failed"}`))
	if err != nil {
		t.Fatalf("ParseMessageStatus: %v", err)
	}
	if ev.ExternalEventID != "msg-1:failed" {
		t.Errorf("event id = %q", ev.ExternalEventID)
	}
}

func TestParseConsentReplyApproved(t *testing.T) {
	body := `{"message_id":"msg-1","from":"+15551234567","reply":{"type":"consent","decision":"approved"}}`
	ev, err := ParseConsentReply(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseConsentReply: %v", err)
	}
	if ev.Kind != correlator.KindConsentReply {
		t.Errorf("kind = %s", ev.Kind)
	}
	if ev.Decision != permissions.DecisionApproved {
		t.Errorf("decision = %s", ev.Decision)
	}
	if ev.Destination != "+15551234567" {
		t.Errorf("destination = %q", ev.Destination)
	}
}

func TestParseConsentReplyDeclineWords(t *testing.T) {
	for _, word := range []string{"rejected", "decline", "no"} {
		body := `{"message_id":"msg-1","from":"+15551","reply":{"type":"consent","decision":"` + word + `"}}`
		ev, err := ParseConsentReply(strings.NewReader(body))
		if err != nil {
			t.Fatalf("decision %q: %v", word, err)
		}
		if ev.Decision != permissions.DecisionRejected {
			t.Errorf("decision %q mapped to %s", word, ev.Decision)
		}
	}
}

func TestParseConsentReplyIgnoresChatter(t *testing.T) {
	body := `{"message_id":"msg-2","from":"+15551234567","body":"hi, what are your opening hours?"}`
	_, err := ParseConsentReply(strings.NewReader(body))
	if !errors.Is(err, ErrNotConsentReply) {
		t.Fatalf("err = %v, want ErrNotConsentReply", err)
	}
}

func TestParseConsentReplyRejectsUnknownDecision(t *testing.T) {
	body := `{"message_id":"msg-1","from":"+15551","reply":{"type":"consent","decision":"maybe"}}`
	_, err := ParseConsentReply(strings.NewReader(body))
	if err == nil || errors.Is(err, ErrNotConsentReply) {
		t.Fatalf("err = %v, want decision error", err)
	}
}
