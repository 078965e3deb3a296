// Package reputation posts mapped chat events to the external reputation
// service. Failures are logged by the caller and never fail the event.
package reputation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event is the payload posted to the reputation service.
type Event struct {
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name"`
	EntityID  string         `json:"entity_id"`
	Platform  string         `json:"platform"`
	EventType string         `json:"event_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// eventNames maps router message types to the reputation service's event
// names. Types not listed pass through unchanged.
var eventNames = map[string]string{
	"chatMessage": "message",
}

// MapEventType translates a router message type to its reputation event name.
func MapEventType(messageType string) string {
	if name, ok := eventNames[messageType]; ok {
		return name
	}
	return messageType
}

// Client posts reputation events with a 10-second timeout.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a reputation Client for the given endpoint URL.
func NewClient(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Apply posts the event. The caller logs errors; they are never fatal to the
// dispatch pipeline.
func (c *Client) Apply(ctx context.Context, ev Event) error {
	ev.EventType = MapEventType(ev.EventType)

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling reputation event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building reputation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting reputation event: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("reputation service returned HTTP %d", resp.StatusCode)
	}
	return nil
}
