package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"callbridge/internal/calls"
	"callbridge/internal/correlator"
)

func formRequest(form url.Values) *http.Request {
	r := httptest.NewRequest("POST", "/webhook", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseInboundCall(t *testing.T) {
	ev, err := ParseInboundCall(formRequest(url.Values{
		"CallId":     {"PCALL-1"},
		"From":       {"+15551234567"},
		"To":         {"+15550000001"},
		"CallStatus": {"ringing"},
		"Timestamp":  {"2024-05-01T12:00:00Z"},
	}))
	if err != nil {
		t.Fatalf("ParseInboundCall: %v", err)
	}
	if ev.Kind != correlator.KindInboundCall {
		t.Errorf("kind = %s", ev.Kind)
	}
	if ev.ProviderCallID != "PCALL-1" || ev.From != "+15551234567" || ev.To != "+15550000001" {
		t.Errorf("identity fields = %+v", ev)
	}
	if ev.ExternalEventID == "" {
		t.Errorf("no external event id derived")
	}
	if ev.OccurredAt.IsZero() {
		t.Errorf("timestamp not parsed")
	}
	if ev.RawPayload == "" {
		t.Errorf("raw payload not kept")
	}
}

func TestParseInboundCallMissingFields(t *testing.T) {
	_, err := ParseInboundCall(formRequest(url.Values{"From": {"+15551234567"}}))
	if err == nil {
		t.Fatalf("expected error for missing CallId/To")
	}
}

func TestParseStatusUpdate(t *testing.T) {
	ev, err := ParseStatusUpdate(formRequest(url.Values{
		"CallId":       {"PCALL-1"},
		"CallStatus":   {"completed"},
		"CallDuration": {"85"},
	}))
	if err != nil {
		t.Fatalf("ParseStatusUpdate: %v", err)
	}
	if ev.Status != calls.CallStatusCompleted {
		t.Errorf("status = %s", ev.Status)
	}
	if ev.DurationSeconds != 85 {
		t.Errorf("duration = %d", ev.DurationSeconds)
	}
	if ev.ExternalEventID != "PCALL-1:status:completed" {
		t.Errorf("event id = %q", ev.ExternalEventID)
	}
}

func TestParseStatusUpdateRejectsUnknownStatus(t *testing.T) {
	_, err := ParseStatusUpdate(formRequest(url.Values{
		"CallId":     {"PCALL-1"},
		"CallStatus": {"levitating"},
	}))
	if err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestParseStatusUpdateRejectsBadDuration(t *testing.T) {
	_, err := ParseStatusUpdate(formRequest(url.Values{
		"CallId":       {"PCALL-1"},
		"CallStatus":   {"completed"},
		"CallDuration": {"-3"},
	}))
	if err == nil {
		t.Fatalf("expected error for negative duration")
	}
}

func TestParseRecording(t *testing.T) {
	ev, err := ParseRecording(formRequest(url.Values{
		"CallId":       {"PCALL-1"},
		"RecordingId":  {"REC-9"},
		"RecordingUrl": {"https://rec.example/9.mp3"},
	}))
	if err != nil {
		t.Fatalf("ParseRecording: %v", err)
	}
	if ev.Kind != correlator.KindRecording || ev.RecordingURL != "https://rec.example/9.mp3" {
		t.Errorf("event = %+v", ev)
	}
	if ev.ExternalEventID != "REC-9" {
		t.Errorf("event id = %q, want recording id", ev.ExternalEventID)
	}
}

func TestParseConferenceEvent(t *testing.T) {
	ev, err := ParseConferenceEvent(formRequest(url.Values{
		"ConferenceName":   {"conf-abc"},
		"ConferenceEvent":  {"participant-join"},
		"ParticipantLabel": {"agent"},
	}))
	if err != nil {
		t.Fatalf("ParseConferenceEvent: %v", err)
	}
	if ev.ConferenceName != "conf-abc" || ev.ConferenceAction != calls.ConferenceJoin || ev.ParticipantRole != calls.RoleAgent {
		t.Errorf("event = %+v", ev)
	}
}

func TestParseConferenceEndNeedsNoParticipant(t *testing.T) {
	ev, err := ParseConferenceEvent(formRequest(url.Values{
		"ConferenceName":  {"conf-abc"},
		"ConferenceEvent": {"conference-end"},
	}))
	if err != nil {
		t.Fatalf("ParseConferenceEvent: %v", err)
	}
	if ev.ConferenceAction != calls.ConferenceEnd || ev.ParticipantRole != "" {
		t.Errorf("event = %+v", ev)
	}
}

func TestParseConferenceEventRejectsUnknownLabel(t *testing.T) {
	_, err := ParseConferenceEvent(formRequest(url.Values{
		"ConferenceName":   {"conf-abc"},
		"ConferenceEvent":  {"participant-join"},
		"ParticipantLabel": {"intruder"},
	}))
	if err == nil {
		t.Fatalf("expected error for unknown participant label")
	}
}

func TestMapCallStatus(t *testing.T) {
	tests := []struct {
		in   string
		want calls.CallStatus
	}{
		{"queued", calls.CallStatusInitiated},
		{"ringing", calls.CallStatusRinging},
		{"in-progress", calls.CallStatusInProgress},
		{"answered", calls.CallStatusInProgress},
		{"completed", calls.CallStatusCompleted},
		{"busy", calls.CallStatusBusy},
		{"failed", calls.CallStatusFailed},
		{"no-answer", calls.CallStatusNoAnswer},
		{"canceled", calls.CallStatusCanceled},
	}
	for _, tt := range tests {
		got, err := MapCallStatus(tt.in)
		if err != nil {
			t.Errorf("MapCallStatus(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("MapCallStatus(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
