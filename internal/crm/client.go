package crm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/config"

	"github.com/go-resty/resty/v2"
	cache "github.com/patrickmn/go-cache"
)

// Client is the CRM sync collaborator. Contact lookups are cached
// in-process; a call center redials the same handful of contacts far
// more often than the cache TTL.
type Client struct {
	http      *resty.Client
	accountID string

	// contacts caches address -> contact id.
	contacts *cache.Cache
}

func NewClient(cfg config.CRMConfig) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetHeader("api_access_token", cfg.Token).
			SetTimeout(10 * time.Second),
		accountID: cfg.AccountID,
		contacts:  cache.New(15*time.Minute, 30*time.Minute),
	}
}

type contact struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

type contactSearchResult struct {
	Payload []contact `json:"payload"`
}

// FindOrCreateContact resolves the address to a CRM contact id, creating
// the contact when no exact match exists.
func (c *Client) FindOrCreateContact(ctx context.Context, name, address string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("crm: empty contact address")
	}
	if id, ok := c.contacts.Get(address); ok {
		return id.(string), nil
	}

	var search contactSearchResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("q", address).
		SetResult(&search).
		Get(fmt.Sprintf("/api/v1/accounts/%s/contacts/search", c.accountID))
	if err != nil {
		return "", fmt.Errorf("crm: contact search failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("crm: contact search returned %s: %s", resp.Status(), resp.String())
	}
	// Search is broad; only an exact address match counts.
	for _, hit := range search.Payload {
		if hit.PhoneNumber == address {
			id := strconv.Itoa(hit.ID)
			c.contacts.SetDefault(address, id)
			return id, nil
		}
	}

	if name == "" {
		name = address
	}
	var created contact
	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": name, "phone_number": address}).
		SetResult(&created).
		Post(fmt.Sprintf("/api/v1/accounts/%s/contacts", c.accountID))
	if err != nil {
		return "", fmt.Errorf("crm: contact create failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("crm: contact create returned %s: %s", resp.Status(), resp.String())
	}
	id := strconv.Itoa(created.ID)
	c.contacts.SetDefault(address, id)
	return id, nil
}

type note struct {
	ID int `json:"id"`
}

// LogCallActivity records a call digest as a note on the contact.
func (c *Client) LogCallActivity(ctx context.Context, contactID string, summary calls.ActivitySummary) (string, error) {
	if contactID == "" {
		return "", fmt.Errorf("crm: empty contact id")
	}
	content := fmt.Sprintf("%s call %s (%ds)", summary.Direction, summary.Status, summary.DurationSeconds)
	if summary.Notes != "" {
		content += "\n" + summary.Notes
	}

	var created note
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"content": content}).
		SetResult(&created).
		Post(fmt.Sprintf("/api/v1/accounts/%s/contacts/%s/notes", c.accountID, contactID))
	if err != nil {
		return "", fmt.Errorf("crm: activity log failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("crm: activity log returned %s: %s", resp.Status(), resp.String())
	}
	return strconv.Itoa(created.ID), nil
}
