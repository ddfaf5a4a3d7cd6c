package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"callbridge/internal/calls"
	"callbridge/internal/config"
)

type fakeCRM struct {
	searches int
	creates  int
	notes    []string
}

func (f *fakeCRM) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/acct-1/contacts/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		f.searches++
		if r.URL.Query().Get("q") == "+15551234567" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"payload": []map[string]any{
					{"id": 42, "name": "Ada", "phone_number": "+15551234567"},
					{"id": 43, "name": "Partial Match", "phone_number": "+155512345678"},
				},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"payload": []any{}})
	})
	mux.HandleFunc("/api/v1/accounts/acct-1/contacts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		f.creates++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": 77})
	})
	mux.HandleFunc("/api/v1/accounts/acct-1/contacts/42/notes", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.notes = append(f.notes, body["content"])
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": 9})
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeCRM) {
	t.Helper()
	f := &fakeCRM{}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(config.CRMConfig{BaseURL: srv.URL, Token: "tok", AccountID: "acct-1"}), f
}

func TestFindOrCreateContactExactMatch(t *testing.T) {
	c, f := newTestClient(t)

	id, err := c.FindOrCreateContact(context.Background(), "", "+15551234567")
	if err != nil {
		t.Fatalf("FindOrCreateContact: %v", err)
	}
	if id != "42" {
		t.Errorf("id = %q, want 42 (exact match, not the partial one)", id)
	}
	if f.creates != 0 {
		t.Errorf("created %d contacts, want 0", f.creates)
	}
}

func TestFindOrCreateContactCreatesWhenMissing(t *testing.T) {
	c, f := newTestClient(t)

	id, err := c.FindOrCreateContact(context.Background(), "Bob", "+15559990000")
	if err != nil {
		t.Fatalf("FindOrCreateContact: %v", err)
	}
	if id != "77" {
		t.Errorf("id = %q, want 77", id)
	}
	if f.creates != 1 {
		t.Errorf("creates = %d, want 1", f.creates)
	}
}

func TestFindOrCreateContactCachesLookups(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.FindOrCreateContact(ctx, "", "+15551234567"); err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
	}
	if f.searches != 1 {
		t.Errorf("searches = %d, want 1 (cache hit after first)", f.searches)
	}
}

func TestLogCallActivity(t *testing.T) {
	c, f := newTestClient(t)

	id, err := c.LogCallActivity(context.Background(), "42", calls.ActivitySummary{
		CallID:          "call-1",
		Direction:       "outbound",
		Status:          "completed",
		DurationSeconds: 85,
		Notes:           "asked about renewal",
	})
	if err != nil {
		t.Fatalf("LogCallActivity: %v", err)
	}
	if id != "9" {
		t.Errorf("activity id = %q, want 9", id)
	}
	if len(f.notes) != 1 || !strings.Contains(f.notes[0], "outbound call completed") {
		t.Errorf("notes = %v", f.notes)
	}
}
