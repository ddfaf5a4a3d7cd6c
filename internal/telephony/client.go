package telephony

import (
	"context"
	"fmt"
	"time"

	"callbridge/internal/config"

	"github.com/go-resty/resty/v2"
)

// Provider is the REST adapter for the voice provider. It implements the
// dial collaborator consumed by the call lifecycle manager; asynchronous
// status events flow back through the webhook handlers in this package.
//
// No provider calls outside this adapter; request/response types stay
// provider-agnostic at the boundary.
type Provider struct {
	http *resty.Client

	// callbackBaseURL is the public base URL the provider posts status
	// events back to.
	callbackBaseURL string
}

func NewProvider(cfg config.TelephonyConfig) *Provider {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.Token).
		SetTimeout(10 * time.Second)

	return &Provider{
		http:            client,
		callbackBaseURL: cfg.CallbackBaseURL,
	}
}

type dialRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	StatusCallback string `json:"status_callback"`
}

type dialResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

// Dial starts an outbound leg. The provider assigns the call id; further
// progress arrives asynchronously at the status callback.
func (p *Provider) Dial(ctx context.Context, from, to string) (string, error) {
	var out dialResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetBody(dialRequest{
			From:           from,
			To:             to,
			StatusCallback: p.callbackBaseURL + "/webhooks/voice/status",
		}).
		SetResult(&out).
		Post("/v1/calls")
	if err != nil {
		return "", fmt.Errorf("telephony: dial request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("telephony: dial rejected: status %s, body: %s", resp.Status(), resp.String())
	}
	if out.CallID == "" {
		return "", fmt.Errorf("telephony: dial response missing call id")
	}
	return out.CallID, nil
}

// Terminate requests a hangup at the provider. Idempotent on the provider
// side; a 404 for an already-gone call is treated as success.
func (p *Provider) Terminate(ctx context.Context, providerCallID string) error {
	resp, err := p.http.R().
		SetContext(ctx).
		Post("/v1/calls/" + providerCallID + "/hangup")
	if err != nil {
		return fmt.Errorf("telephony: terminate request failed: %w", err)
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("telephony: terminate rejected: status %s, body: %s", resp.Status(), resp.String())
	}
	return nil
}

type bridgeRequest struct {
	CallID         string `json:"call_id"`
	AgentAddress   string `json:"agent_address"`
	StatusCallback string `json:"status_callback"`
}

// Bridge moves the customer leg into the named conference and dials the
// agent leg into it.
func (p *Provider) Bridge(ctx context.Context, conferenceName, providerCallID, agentAddress string) error {
	resp, err := p.http.R().
		SetContext(ctx).
		SetBody(bridgeRequest{
			CallID:         providerCallID,
			AgentAddress:   agentAddress,
			StatusCallback: p.callbackBaseURL + "/webhooks/voice/conference",
		}).
		Post("/v1/conferences/" + conferenceName + "/participants")
	if err != nil {
		return fmt.Errorf("telephony: bridge request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telephony: bridge rejected: status %s, body: %s", resp.Status(), resp.String())
	}
	return nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	resp, err := p.http.R().SetContext(ctx).Get("/v1/health")
	if err != nil {
		return fmt.Errorf("telephony: health check failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telephony: health check returned %s", resp.Status())
	}
	return nil
}
