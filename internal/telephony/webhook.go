package telephony

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/correlator"
)

// Voice webhooks arrive as application/x-www-form-urlencoded, one
// endpoint per event family. Each parser is a total mapping: it either
// produces a normalized event or an error, never a half-guessed one.

// voiceForm captures the webhook fields shared across event families.
type voiceForm struct {
	EventID    string
	CallID     string
	From       string
	To         string
	Status     string
	Duration   string
	Reason     string
	Timestamp  string
	Raw        map[string]string
}

func parseVoiceForm(r *http.Request) (voiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return voiceForm{}, err
	}
	raw := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		raw[k] = r.PostFormValue(k)
	}
	return voiceForm{
		EventID:   r.PostFormValue("EventId"),
		CallID:    r.PostFormValue("CallId"),
		From:      strings.TrimSpace(r.PostFormValue("From")),
		To:        strings.TrimSpace(r.PostFormValue("To")),
		Status:    r.PostFormValue("CallStatus"),
		Duration:  r.PostFormValue("CallDuration"),
		Reason:    r.PostFormValue("Reason"),
		Timestamp: r.PostFormValue("Timestamp"),
		Raw:       raw,
	}, nil
}

func (f voiceForm) rawJSON() string {
	b, _ := json.Marshal(f.Raw)
	return string(b)
}

func (f voiceForm) occurredAt() time.Time {
	if f.Timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, f.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// eventID falls back to a composed identifier for providers that do not
// send one; same call id plus same status still dedupes redeliveries.
func (f voiceForm) eventID(kind string) string {
	if f.EventID != "" {
		return f.EventID
	}
	return f.CallID + ":" + kind + ":" + f.Status
}

// ParseInboundCall maps the incoming-call announcement.
func ParseInboundCall(r *http.Request) (correlator.ProviderEvent, error) {
	f, err := parseVoiceForm(r)
	if err != nil {
		return correlator.ProviderEvent{}, err
	}
	if f.CallID == "" || f.From == "" || f.To == "" {
		return correlator.ProviderEvent{}, fmt.Errorf("telephony: inbound webhook missing CallId/From/To")
	}
	return correlator.ProviderEvent{
		Source:          correlator.SourceVoice,
		Kind:            correlator.KindInboundCall,
		ExternalEventID: f.eventID("inbound"),
		ProviderCallID:  f.CallID,
		From:            f.From,
		To:              f.To,
		OccurredAt:      f.occurredAt(),
		RawPayload:      f.rawJSON(),
	}, nil
}

// ParseStatusUpdate maps a status callback.
func ParseStatusUpdate(r *http.Request) (correlator.ProviderEvent, error) {
	f, err := parseVoiceForm(r)
	if err != nil {
		return correlator.ProviderEvent{}, err
	}
	if f.CallID == "" {
		return correlator.ProviderEvent{}, fmt.Errorf("telephony: status webhook missing CallId")
	}
	status, err := MapCallStatus(f.Status)
	if err != nil {
		return correlator.ProviderEvent{}, err
	}
	duration := 0
	if f.Duration != "" {
		duration, err = strconv.Atoi(f.Duration)
		if err != nil || duration < 0 {
			return correlator.ProviderEvent{}, fmt.Errorf("telephony: bad CallDuration %q", f.Duration)
		}
	}
	return correlator.ProviderEvent{
		Source:          correlator.SourceVoice,
		Kind:            correlator.KindCallStatus,
		ExternalEventID: f.eventID("status"),
		ProviderCallID:  f.CallID,
		Status:          status,
		DurationSeconds: duration,
		Reason:          f.Reason,
		OccurredAt:      f.occurredAt(),
		RawPayload:      f.rawJSON(),
	}, nil
}

// ParseRecording maps a recording-available callback.
func ParseRecording(r *http.Request) (correlator.ProviderEvent, error) {
	f, err := parseVoiceForm(r)
	if err != nil {
		return correlator.ProviderEvent{}, err
	}
	recordingID := r.PostFormValue("RecordingId")
	url := r.PostFormValue("RecordingUrl")
	if f.CallID == "" || url == "" {
		return correlator.ProviderEvent{}, fmt.Errorf("telephony: recording webhook missing CallId/RecordingUrl")
	}
	eventID := recordingID
	if eventID == "" {
		eventID = f.eventID("recording")
	}
	return correlator.ProviderEvent{
		Source:          correlator.SourceVoice,
		Kind:            correlator.KindRecording,
		ExternalEventID: eventID,
		ProviderCallID:  f.CallID,
		RecordingURL:    url,
		OccurredAt:      f.occurredAt(),
		RawPayload:      f.rawJSON(),
	}, nil
}

// ParseConferenceEvent maps a conference-lifecycle callback. Participant
// legs are labeled by the ParticipantLabel we set when bridging.
func ParseConferenceEvent(r *http.Request) (correlator.ProviderEvent, error) {
	f, err := parseVoiceForm(r)
	if err != nil {
		return correlator.ProviderEvent{}, err
	}
	conference := r.PostFormValue("ConferenceName")
	if conference == "" {
		return correlator.ProviderEvent{}, fmt.Errorf("telephony: conference webhook missing ConferenceName")
	}
	action, err := mapConferenceAction(r.PostFormValue("ConferenceEvent"))
	if err != nil {
		return correlator.ProviderEvent{}, err
	}
	role, err := mapParticipantRole(action, r.PostFormValue("ParticipantLabel"))
	if err != nil {
		return correlator.ProviderEvent{}, err
	}
	eventID := f.EventID
	if eventID == "" {
		eventID = conference + ":" + string(action) + ":" + string(role)
	}
	return correlator.ProviderEvent{
		Source:           correlator.SourceVoice,
		Kind:             correlator.KindConference,
		ExternalEventID:  eventID,
		ConferenceName:   conference,
		ConferenceAction: action,
		ParticipantRole:  role,
		OccurredAt:       f.occurredAt(),
		RawPayload:       f.rawJSON(),
	}, nil
}

// MapCallStatus normalizes the provider's status vocabulary. Unknown
// values are an error, not a guess.
func MapCallStatus(s string) (calls.CallStatus, error) {
	switch strings.ToLower(s) {
	case "queued", "initiated":
		return calls.CallStatusInitiated, nil
	case "ringing":
		return calls.CallStatusRinging, nil
	case "in-progress", "answered":
		return calls.CallStatusInProgress, nil
	case "completed":
		return calls.CallStatusCompleted, nil
	case "busy":
		return calls.CallStatusBusy, nil
	case "failed":
		return calls.CallStatusFailed, nil
	case "no-answer":
		return calls.CallStatusNoAnswer, nil
	case "canceled":
		return calls.CallStatusCanceled, nil
	default:
		return "", fmt.Errorf("telephony: unknown call status %q", s)
	}
}

func mapConferenceAction(s string) (calls.ConferenceAction, error) {
	switch strings.ToLower(s) {
	case "conference-start", "start":
		return calls.ConferenceStart, nil
	case "participant-join", "join":
		return calls.ConferenceJoin, nil
	case "participant-leave", "leave":
		return calls.ConferenceLeave, nil
	case "conference-end", "end":
		return calls.ConferenceEnd, nil
	default:
		return "", fmt.Errorf("telephony: unknown conference event %q", s)
	}
}

func mapParticipantRole(action calls.ConferenceAction, label string) (calls.ParticipantRole, error) {
	// Start and end events carry no participant.
	if action == calls.ConferenceStart || action == calls.ConferenceEnd {
		return "", nil
	}
	switch strings.ToLower(label) {
	case "agent":
		return calls.RoleAgent, nil
	case "customer":
		return calls.RoleCustomer, nil
	default:
		return "", fmt.Errorf("telephony: unknown participant label %q", label)
	}
}
