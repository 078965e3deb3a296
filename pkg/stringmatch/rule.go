// Package stringmatch implements the content-pattern engine consulted when a
// chat message carries no command prefix.
package stringmatch

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Match types.
const (
	MatchExact    = "exact"
	MatchContains = "contains"
	MatchWord     = "word"
	MatchRegex    = "regex"
)

// Rule actions.
const (
	ActionWarn    = "warn"
	ActionBlock   = "block"
	ActionCommand = "command"
	ActionWebhook = "webhook"
)

// WildcardPattern matches any non-empty message regardless of match type.
const WildcardPattern = "*"

// Rule is a row from the string_match_rules table.
type Rule struct {
	ID                int64              `json:"id"`
	Name              string             `json:"name,omitempty"`
	Pattern           string             `json:"pattern"`
	MatchType         string             `json:"match_type"`
	CaseSensitive     bool               `json:"case_sensitive"`
	EntityIDs         []string           `json:"enabled_entity_ids"` // empty = global
	Action            string             `json:"action"`
	CommandToExecute  string             `json:"command_to_execute,omitempty"`
	CommandParameters []string           `json:"command_parameters,omitempty"`
	WebhookURL        string             `json:"webhook_url,omitempty"`
	WarningMessage    string             `json:"warning_message,omitempty"`
	BlockMessage      string             `json:"block_message,omitempty"`
	Priority          int                `json:"priority"`
	Enabled           bool               `json:"enabled"`
	MatchCount        int64              `json:"match_count"`
	LastMatched       pgtype.Timestamptz `json:"-"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Message returns the user-facing message a warn or block rule carries.
func (r *Rule) Message() string {
	if r.Action == ActionBlock && r.BlockMessage != "" {
		return r.BlockMessage
	}
	return r.WarningMessage
}

// RuleRequest is the JSON body for creating or updating a rule.
type RuleRequest struct {
	Name              string   `json:"name" validate:"max=128"`
	Pattern           string   `json:"pattern" validate:"required,max=1024"`
	MatchType         string   `json:"match_type" validate:"required,oneof=exact contains word regex"`
	CaseSensitive     bool     `json:"case_sensitive"`
	EntityIDs         []string `json:"enabled_entity_ids"`
	Action            string   `json:"action" validate:"required,oneof=warn block command webhook"`
	CommandToExecute  string   `json:"command_to_execute" validate:"max=64"`
	CommandParameters []string `json:"command_parameters"`
	WebhookURL        string   `json:"webhook_url" validate:"omitempty,url"`
	WarningMessage    string   `json:"warning_message" validate:"max=512"`
	BlockMessage      string   `json:"block_message" validate:"max=512"`
	Priority          int      `json:"priority" validate:"gte=0"`
	Enabled           bool     `json:"enabled"`
}
