package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/notify"
	"callbridge/internal/permissions"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth  *auth.Manager
	Calls *calls.Service
	Perms *permissions.Service
	Hub   *notify.Hub
}

// --- Auth ---

type loginRequest struct {
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	AgentAddress string `json:"agent_address"`
}

// Login issues a JWT token pair.
//
// NOTE: Credential validation is delegated to the identity provider in
// front of this service; this endpoint only mints tokens.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role, req.AgentAddress)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type createCallRequest struct {
	ContactID   string `json:"contact_id"`
	Destination string `json:"destination"`
}

func (h Handlers) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	agentID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	call, err := h.Calls.CreateOutbound(c.Request.Context(), req.ContactID, req.Destination, agentID)
	switch {
	case errors.Is(err, permissions.ErrPermissionRequired):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission required", "code": "permission_required"})
		return
	case errors.Is(err, calls.ErrValidation) || errors.Is(err, permissions.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "contact_id, destination required"})
		return
	case errors.Is(err, calls.ErrDialFailed):
		// The call exists in failed status; return it with the error.
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "dial failed", "call": call})
		return
	case err != nil:
		logger.FromGin(c).Error("create call failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call creation failed"})
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Calls.Get(c.Request.Context(), c.Param("call_id"))
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) ListCallEvents(c *gin.Context) {
	events, err := h.Calls.Events(c.Request.Context(), c.Param("call_id"))
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h Handlers) HangupCall(c *gin.Context) {
	call, err := h.Calls.Hangup(c.Request.Context(), c.Param("call_id"))
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("hangup failed", "call_id", c.Param("call_id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "hangup failed"})
		return
	}
	c.JSON(http.StatusOK, call)
}

type addNoteRequest struct {
	Note string `json:"note"`
}

func (h Handlers) AddCallNote(c *gin.Context) {
	var req addNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Note == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "note required"})
		return
	}
	call, err := h.Calls.AddNote(c.Request.Context(), c.Param("call_id"), req.Note)
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "note failed"})
		return
	}
	c.JSON(http.StatusOK, call)
}

type bridgeRequest struct {
	AgentAddress string `json:"agent_address"`
}

// BridgeCall pulls the caller's agent leg into the call's conference.
// The agent address defaults to the one in the caller's token.
func (h Handlers) BridgeCall(c *gin.Context) {
	var req bridgeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	addr := req.AgentAddress
	if addr == "" {
		addr = auth.AgentAddress(c.Request.Context())
	}
	if addr == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_address required"})
		return
	}

	call, err := h.Calls.StartBridge(c.Request.Context(), c.Param("call_id"), addr)
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	case errors.Is(err, calls.ErrValidation):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already ended"})
		return
	case err != nil:
		logger.FromGin(c).Error("bridge failed", "call_id", c.Param("call_id"), "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "bridge failed"})
		return
	}
	c.JSON(http.StatusOK, call)
}

// --- Permissions ---

type requestPermissionRequest struct {
	ContactID   string `json:"contact_id"`
	Destination string `json:"destination"`
}

func (h Handlers) RequestPermission(c *gin.Context) {
	var req requestPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := h.Perms.Request(c.Request.Context(), req.ContactID, req.Destination)
	switch {
	case errors.Is(err, permissions.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "contact_id, destination required"})
		return
	case errors.Is(err, permissions.ErrRateLimited):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "permission request rate limit reached", "code": "rate_limited"})
		return
	case err != nil:
		// The permission may exist in failed status when the prompt send
		// failed; surface it so the caller can retry later.
		logger.FromGin(c).Error("permission request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "consent prompt delivery failed", "permission": p})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h Handlers) GetPermission(c *gin.Context) {
	p, err := h.Perms.Get(c.Request.Context(), c.Param("permission_id"))
	if errors.Is(err, permissions.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "permission not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "permission lookup failed"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// --- Live updates ---

// StreamEvents pushes call and permission digests over SSE until the
// client disconnects. Slow consumers miss messages rather than blocking
// the mutation path.
func (h Handlers) StreamEvents(c *gin.Context) {
	obs, err := h.Hub.Register(64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "too many observers"})
		return
	}
	defer h.Hub.Unregister(obs)

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-obs.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
