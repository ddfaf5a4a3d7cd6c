package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/notify"
	"callbridge/internal/permissions"
	"callbridge/internal/rbac"

	"github.com/gin-gonic/gin"
)

type okDialer struct{}

func (okDialer) Dial(ctx context.Context, from, to string) (string, error) { return "PCALL-1", nil }
func (okDialer) Terminate(ctx context.Context, providerCallID string) error { return nil }
func (okDialer) Bridge(ctx context.Context, conferenceName, providerCallID, agentAddress string) error {
	return nil
}

type okSender struct{}

func (okSender) SendConsentPrompt(ctx context.Context, destination, templateRef string) (string, error) {
	return "msg-1", nil
}

type apiFixture struct {
	router *gin.Engine
	perms  *permissions.Service
	calls  *calls.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authMgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	hub := notify.NewHub(16)
	policy := permissions.Policy{DailyCap: 1, WeeklyCap: 2, TTL: 7 * 24 * time.Hour, MaxCalls: 5, MissedCallThreshold: 4}
	permSvc := permissions.NewService(permissions.NewMemoryRepo(), permissions.NewMemoryLimiter(time.Now), okSender{}, hub, policy, "call_permission_request")
	callSvc := calls.NewService(calls.NewMemoryRepo(), permSvc, okDialer{}, nil, nil, hub, "+15550000001")

	h := Handlers{Auth: authMgr, Calls: callSvc, Perms: permSvc, Hub: hub}

	r := gin.New()
	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authMgr))
	{
		callsGroup := v1.Group("/calls")
		callsGroup.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			callsGroup.POST("", h.CreateCall)
			callsGroup.GET("/:call_id", h.GetCall)
			callsGroup.GET("/:call_id/events", h.ListCallEvents)
			callsGroup.POST("/:call_id/hangup", h.HangupCall)
			callsGroup.POST("/:call_id/notes", h.AddCallNote)
		}
		permsGroup := v1.Group("/permissions")
		permsGroup.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			permsGroup.POST("", h.RequestPermission)
			permsGroup.GET("/:permission_id", h.GetPermission)
		}
	}

	return &apiFixture{router: r, perms: permSvc, calls: callSvc}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) login(t *testing.T, role string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{
		"user_id": "agent-1", "role": role, "agent_address": "sip:agent-1@pbx",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.AccessToken
}

func TestLoginRequiresFields(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}

func TestCallsRequireToken(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/v1/calls", "", gin.H{"contact_id": "c", "destination": "+1555"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", w.Code)
	}
}

func TestCreateCallWithoutPermission(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, rbac.RoleAgent)

	w := f.do(t, http.MethodPost, "/v1/calls", token, gin.H{
		"contact_id": "contact-1", "destination": "+15551234567",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Code string `json:"code"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != "permission_required" {
		t.Errorf("code = %q, want permission_required", resp.Code)
	}
}

func TestPermissionRequestAndRateLimit(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, rbac.RoleAgent)

	w := f.do(t, http.MethodPost, "/v1/permissions", token, gin.H{
		"contact_id": "contact-1", "destination": "+15551234567",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("first request: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/v1/permissions", token, gin.H{
		"contact_id": "contact-1", "destination": "+15551234567",
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", w.Code)
	}
}

func TestCallFlowAfterApproval(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, rbac.RoleAgent)
	ctx := context.Background()

	if _, err := f.perms.Request(ctx, "contact-1", "+15551234567"); err != nil {
		t.Fatalf("request permission: %v", err)
	}
	if _, err := f.perms.RecordResponse(ctx, "+15551234567", permissions.DecisionApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	w := f.do(t, http.MethodPost, "/v1/calls", token, gin.H{
		"contact_id": "contact-1", "destination": "+15551234567",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create call: %d %s", w.Code, w.Body.String())
	}
	var created calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if created.Status != calls.CallStatusInitiated {
		t.Errorf("status = %s, want initiated", created.Status)
	}

	w = f.do(t, http.MethodGet, "/v1/calls/"+created.ID, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get call: %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/v1/calls/"+created.ID+"/hangup", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("hangup: %d %s", w.Code, w.Body.String())
	}
	var done calls.Call
	json.Unmarshal(w.Body.Bytes(), &done)
	if done.Status != calls.CallStatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}

	w = f.do(t, http.MethodGet, "/v1/calls/"+created.ID+"/events", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("events: %d", w.Code)
	}
	var events struct {
		Events []calls.CallEvent `json:"events"`
	}
	json.Unmarshal(w.Body.Bytes(), &events)
	if len(events.Events) == 0 {
		t.Errorf("no events recorded")
	}
}

func TestGetCallNotFound(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, rbac.RoleAgent)

	w := f.do(t, http.MethodGet, "/v1/calls/does-not-exist", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
}
