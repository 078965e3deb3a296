// Package coordination implements distributed entity leasing: horizontally
// scaled collector containers claim exclusive responsibility for platform
// entities through compare-and-set claims with expiry and check-in heartbeats.
package coordination

import (
	"encoding/json"
	"time"
)

// Entity statuses.
const (
	StatusAvailable = "available"
	StatusClaimed   = "claimed"
	StatusLive      = "live"
	StatusOffline   = "offline"
	StatusError     = "error"
)

// errorThreshold is the error count at which a row transitions to error.
const errorThreshold = 3

// Entity is a row from the coordination_entities table.
type Entity struct {
	ID           int64           `json:"id"`
	Platform     string          `json:"platform"`
	ServerID     string          `json:"server_id"`
	ChannelID    string          `json:"channel_id,omitempty"`
	EntityID     string          `json:"entity_id"`
	ClaimedBy    *string         `json:"claimed_by,omitempty"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	ClaimExpires *time.Time      `json:"claim_expires,omitempty"`
	LastCheckin  *time.Time      `json:"last_checkin,omitempty"`
	Status       string          `json:"status"`
	IsLive       bool            `json:"is_live"`
	LiveSince    *time.Time      `json:"live_since,omitempty"`
	ViewerCount  int             `json:"viewer_count"`
	ErrorCount   int             `json:"error_count"`
	LastError    *string         `json:"last_error,omitempty"`
	LastActivity *time.Time      `json:"last_activity,omitempty"`
	Priority     int             `json:"priority"`
	Metadata     json.RawMessage `json:"metadata"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Stats summarizes the coordination fleet.
type Stats struct {
	ByStatus   map[string]int `json:"by_status"`
	Live       int            `json:"live"`
	Containers int            `json:"containers"`
	Total      int            `json:"total"`
}
