package main

import (
	"database/sql"
	"time"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/correlator"
	"callbridge/internal/httpapi"
	"callbridge/internal/messaging"
	"callbridge/internal/notify"
	"callbridge/internal/permissions"
	"callbridge/internal/rbac"
	"callbridge/internal/telephony"
	"callbridge/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg   config.Config
	auth  *auth.Manager
	calls *calls.Service
	perms *permissions.Service
	cor   *correlator.Correlator
	hub   *notify.Hub
	db    *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := httpapi.Handlers{
		Auth:  deps.auth,
		Calls: deps.calls,
		Perms: deps.perms,
		Hub:   deps.hub,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks, authenticated by shared secret.
	webhooks := r.Group("/webhooks")
	{
		voice := telephony.WebhookHandler{
			Processor: deps.cor,
			Secret:    deps.cfg.Telephony.WebhookSecret,
		}
		voice.Register(webhooks)

		msg := messaging.WebhookHandler{
			Processor: deps.cor,
			Secret:    deps.cfg.Messaging.WebhookSecret,
		}
		msg.Register(webhooks)
	}

	// Token issuance is public; everything else under /v1 needs a token.
	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.auth))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role, "agent_address": auth.AgentAddress(c.Request.Context())})
		})

		// Live digests for agent consoles.
		v1.GET("/stream", h.StreamEvents)

		callsGroup := v1.Group("/calls")
		callsGroup.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			callsGroup.POST("", h.CreateCall)
			callsGroup.GET("/:call_id", h.GetCall)
			callsGroup.GET("/:call_id/events", h.ListCallEvents)
			callsGroup.POST("/:call_id/hangup", h.HangupCall)
			callsGroup.POST("/:call_id/notes", h.AddCallNote)
			callsGroup.POST("/:call_id/bridge", h.BridgeCall)
		}

		permsGroup := v1.Group("/permissions")
		permsGroup.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			permsGroup.POST("", h.RequestPermission)
			permsGroup.GET("/:permission_id", h.GetPermission)
		}
	}
}
