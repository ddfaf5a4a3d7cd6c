package calls

import "testing"

func TestCallStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status CallStatus
		want   bool
	}{
		{CallStatusInitiated, false},
		{CallStatusRinging, false},
		{CallStatusInProgress, false},
		{CallStatusCompleted, true},
		{CallStatusFailed, true},
		{CallStatusBusy, true},
		{CallStatusNoAnswer, true},
		{CallStatusCanceled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestCallStatusValid(t *testing.T) {
	if CallStatus("unknown").Valid() {
		t.Errorf("unknown status reported valid")
	}
	if !CallStatusRinging.Valid() {
		t.Errorf("ringing reported invalid")
	}
}

func TestRecognizedMetaKey(t *testing.T) {
	for _, k := range []string{MetaConference, MetaAgentLeg, MetaCustomerLeg, MetaDialError, MetaCRMActivityID, MetaPermissionOutcome} {
		if !RecognizedMetaKey(k) {
			t.Errorf("RecognizedMetaKey(%q) = false", k)
		}
	}
	if RecognizedMetaKey("favorite_color") {
		t.Errorf("arbitrary key accepted")
	}
}
