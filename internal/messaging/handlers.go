package messaging

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"callbridge/internal/correlator"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// EventProcessor consumes normalized provider events.
type EventProcessor interface {
	Process(ctx context.Context, ev correlator.ProviderEvent) (correlator.Result, error)
}

// WebhookHandler terminates the messaging provider's callbacks.
type WebhookHandler struct {
	Processor EventProcessor
	Secret    string
}

func (h WebhookHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/messaging/status", h.handle(ParseMessageStatus))
	rg.POST("/messaging/inbound", h.handle(ParseConsentReply))
}

func (h WebhookHandler) handle(parse func(io.Reader) (correlator.ProviderEvent, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		if h.Secret != "" {
			got := c.GetHeader("X-Webhook-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad webhook token"})
				return
			}
		}

		ev, err := parse(c.Request.Body)
		if errors.Is(err, ErrNotConsentReply) {
			// Ordinary chatter; acknowledged and ignored.
			c.JSON(http.StatusOK, gin.H{"outcome": "ignored"})
			return
		}
		if err != nil {
			log.Warn("messaging webhook parse failed", "path", c.FullPath(), "err", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		res, err := h.Processor.Process(c.Request.Context(), ev)
		if err != nil {
			log.Error("messaging event processing failed", "kind", ev.Kind, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcome": res.Outcome})
	}
}
