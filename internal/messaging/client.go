package messaging

import (
	"context"
	"fmt"
	"time"

	"callbridge/internal/config"

	"github.com/go-resty/resty/v2"
)

// Client is the REST adapter for the messaging channel used to deliver
// consent prompts. Delivery progress and customer replies come back
// through the webhook handlers in this package.
type Client struct {
	http *resty.Client
}

func NewClient(cfg config.MessagingConfig) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetAuthToken(cfg.Token).
			SetTimeout(10 * time.Second),
	}
}

type sendRequest struct {
	To       string `json:"to"`
	Template string `json:"template"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// SendConsentPrompt sends the templated consent message and returns the
// provider's message id, which later correlates replies and delivery
// statuses back to the permission.
func (c *Client) SendConsentPrompt(ctx context.Context, destination, templateRef string) (string, error) {
	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendRequest{To: destination, Template: templateRef}).
		SetResult(&out).
		Post("/v1/messages")
	if err != nil {
		return "", fmt.Errorf("messaging: send request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("messaging: send rejected: status %s, body: %s", resp.Status(), resp.String())
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("messaging: send response missing message id")
	}
	return out.MessageID, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/v1/health")
	if err != nil {
		return fmt.Errorf("messaging: health check failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("messaging: health check returned %s", resp.Status())
	}
	return nil
}
