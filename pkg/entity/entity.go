// Package entity manages the chat locations the router dispatches for. An
// entity is a platform+server+channel triple with a deterministic string ID.
package entity

import (
	"encoding/json"
	"time"
)

// Entity is a row from the entities table.
type Entity struct {
	EntityID  string          `json:"entity_id"`
	Platform  string          `json:"platform"`
	ServerID  string          `json:"server_id"`
	ChannelID string          `json:"channel_id,omitempty"`
	Owner     string          `json:"owner,omitempty"`
	Config    json.RawMessage `json:"config"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// Group is a named set of entities within one platform server, optionally
// mapped to a community for role scoping.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Platform    string    `json:"platform"`
	ServerID    string    `json:"server_id"`
	CommunityID *int64    `json:"community_id,omitempty"`
	EntityIDs   []string  `json:"entity_ids"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

// MakeEntityID derives the deterministic entity ID from an event's origin.
// The format is platform+server+channel. Twitch identifies a chat by its
// server (the channel name) alone, so the channel segment is always dropped;
// other platforms drop it only when empty.
func MakeEntityID(platform, serverID, channelID string) string {
	if platform == "twitch" || channelID == "" {
		return platform + "+" + serverID
	}
	return platform + "+" + serverID + "+" + channelID
}
