package stringmatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookPayload is the typed body posted to a rule's webhook on match.
type WebhookPayload struct {
	Type           string            `json:"type"` // always "string_match"
	RuleID         int64             `json:"rule_id"`
	Pattern        string            `json:"pattern"`
	MatchType      string            `json:"match_type"`
	MessageContent string            `json:"message_content"`
	User           WebhookUser       `json:"user"`
	Context        map[string]string `json:"context"`
}

// WebhookUser identifies the author of the matched message.
type WebhookUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WebhookClient posts string-match notifications to rule webhooks. Failures
// are the caller's to log; the match itself is still reported.
type WebhookClient struct {
	httpClient *http.Client
}

// NewWebhookClient creates a WebhookClient with a 10-second timeout.
func NewWebhookClient() *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts the payload to the rule's webhook URL.
func (c *WebhookClient) Notify(ctx context.Context, webhookURL string, payload WebhookPayload) error {
	payload.Type = "string_match"
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting string match webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("string match webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
