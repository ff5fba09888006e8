package loops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ms-membership/internal/config"
	"ms-membership/internal/logger"
)

// Client mirrors active members into the Loops email platform. The
// membership service only ever calls it on a status transition.
type Client struct {
	baseURL string
	apiKey  string
	listID  string
	client  *http.Client
	logger  *logger.Logger
}

func NewClient(cfg config.LoopsConfig, httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		listID:  cfg.ListID,
		client:  httpClient,
		logger:  log,
	}
}

type contactRequest struct {
	Email        string          `json:"email"`
	FirstName    string          `json:"firstName,omitempty"`
	LastName     string          `json:"lastName,omitempty"`
	MailingLists map[string]bool `json:"mailingLists"`
}

// AddToActiveList upserts the contact with the active-members list on.
func (c *Client) AddToActiveList(ctx context.Context, email, firstName, lastName string) error {
	payload := contactRequest{
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		MailingLists: map[string]bool{c.listID: true},
	}
	return c.putContact(ctx, payload)
}

// RemoveFromActiveList upserts the contact with the list off. The
// contact itself is kept so history is not lost on reactivation.
func (c *Client) RemoveFromActiveList(ctx context.Context, email string) error {
	payload := contactRequest{
		Email:        email,
		MailingLists: map[string]bool{c.listID: false},
	}
	return c.putContact(ctx, payload)
}

func (c *Client) putContact(ctx context.Context, payload contactRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal contact payload: %w", err)
	}

	url := c.baseURL + "/contacts/update"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create contact request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("LOOPS", fmt.Sprintf("Contact request error for %s: %v", payload.Email, err))
		return fmt.Errorf("loops request error: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Error("LOOPS", fmt.Sprintf("Failed to close response body: %v", err))
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("LOOPS", fmt.Sprintf("Contact update for %s returned status %d", payload.Email, resp.StatusCode))
		return fmt.Errorf("loops returned status %d", resp.StatusCode)
	}

	c.logger.Debug("LOOPS", fmt.Sprintf("Contact %s updated (list %s=%v)", payload.Email, c.listID, payload.MailingLists[c.listID]))
	return nil
}
