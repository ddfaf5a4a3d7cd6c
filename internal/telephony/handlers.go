package telephony

import (
	"context"
	"crypto/subtle"
	"net/http"

	"callbridge/internal/correlator"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// EventProcessor consumes normalized provider events.
type EventProcessor interface {
	Process(ctx context.Context, ev correlator.ProviderEvent) (correlator.Result, error)
}

// WebhookHandler terminates the voice provider's callbacks. Parsing and
// authentication happen here; all state decisions live downstream.
type WebhookHandler struct {
	Processor EventProcessor

	// Secret authenticates the provider; empty disables the check
	// (non-production only, enforced by config validation).
	Secret string
}

func (h WebhookHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/voice/inbound", h.handle(ParseInboundCall))
	rg.POST("/voice/status", h.handle(ParseStatusUpdate))
	rg.POST("/voice/recording", h.handle(ParseRecording))
	rg.POST("/voice/conference", h.handle(ParseConferenceEvent))
}

func (h WebhookHandler) handle(parse func(*http.Request) (correlator.ProviderEvent, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		if h.Secret != "" {
			got := c.GetHeader("X-Webhook-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad webhook token"})
				return
			}
		}

		ev, err := parse(c.Request)
		if err != nil {
			log.Warn("voice webhook parse failed", "path", c.FullPath(), "err", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		res, err := h.Processor.Process(c.Request.Context(), ev)
		if err != nil {
			log.Error("voice event processing failed", "kind", ev.Kind, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
			return
		}
		// Drops and duplicates are normal under at-least-once delivery.
		c.JSON(http.StatusOK, gin.H{"outcome": res.Outcome})
	}
}
