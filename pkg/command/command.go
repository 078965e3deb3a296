// Package command holds the command registry: definitions provisioned by the
// marketplace, per-entity permissions, and the append-only execution log.
package command

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Command prefixes. Local commands run in containers on the same host;
// community commands dispatch to remote backends.
const (
	PrefixLocal     = "!"
	PrefixCommunity = "#"
)

// Execution backend types.
const (
	TypeContainer = "container"
	TypeLambda    = "lambda"
	TypeOpenWhisk = "openwhisk"
	TypeWebhook   = "webhook"
)

// Trigger types.
const (
	TriggerCommand = "command"
	TriggerEvent   = "event"
	TriggerBoth    = "both"
)

// Execution modes for event-triggered modules.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// Execution statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// Command is a row from the commands table.
type Command struct {
	ID             uuid.UUID         `json:"id"`
	Prefix         string            `json:"prefix"`
	Name           string            `json:"command"`
	Description    string            `json:"description,omitempty"`
	LocationURL    string            `json:"location_url"`
	Type           string            `json:"type"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	RateLimit      int               `json:"rate_limit"`
	TriggerType    string            `json:"trigger_type"`
	EventTypes     []string          `json:"event_types,omitempty"`
	Priority       int               `json:"priority"`
	ExecutionMode  string            `json:"execution_mode"`
	ModuleType     string            `json:"module_type"`
	MaxRetries     int               `json:"max_retries"`
	Active         bool              `json:"active"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Timeout returns the command's per-request timeout with a 30-second default.
func (c *Command) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Permission is a row from the command_permissions table.
type Permission struct {
	CommandID  uuid.UUID          `json:"command_id"`
	EntityID   string             `json:"entity_id"`
	Enabled    bool               `json:"enabled"`
	Config     json.RawMessage    `json:"config"`
	UsageCount int64              `json:"usage_count"`
	LastUsed   pgtype.Timestamptz `json:"-"`
}

// Execution is a row from the command_executions audit log.
type Execution struct {
	ExecutionID     uuid.UUID       `json:"execution_id"`
	CommandID       uuid.UUID       `json:"command_id"`
	EntityID        string          `json:"entity_id"`
	UserID          string          `json:"user_id"`
	UserName        string          `json:"user_name"`
	Parameters      []string        `json:"parameters"`
	Payload         json.RawMessage `json:"payload"`
	ResponseStatus  int             `json:"response_status"`
	ResponseData    json.RawMessage `json:"response_data,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	RetryCount      int             `json:"retry_count"`
	Status          string          `json:"status"`
	Error           *string         `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ModuleResponse is a reply posted by a module for an execution.
type ModuleResponse struct {
	ID             int64           `json:"id"`
	ExecutionID    uuid.UUID       `json:"execution_id"`
	ModuleName     string          `json:"module_name"`
	Success        bool            `json:"success"`
	ResponseAction string          `json:"response_action"`
	ChatMessage    *string         `json:"chat_message,omitempty"`
	MediaType      *string         `json:"media_type,omitempty"`
	MediaURL       *string         `json:"media_url,omitempty"`
	TickerText     *string         `json:"ticker_text,omitempty"`
	TickerDuration *int            `json:"ticker_duration,omitempty"`
	FormPayload    json.RawMessage `json:"form,omitempty"`
	ContentType    *string         `json:"content_type,omitempty"`
	Content        *string         `json:"content,omitempty"`
	Duration       *int            `json:"duration,omitempty"`
	Style          json.RawMessage `json:"style,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CreateRequest is the JSON body for POST /router/commands.
type CreateRequest struct {
	Prefix         string            `json:"prefix" validate:"required,oneof=! #"`
	Name           string            `json:"command" validate:"required,min=1,max=64"`
	Description    string            `json:"description" validate:"max=512"`
	LocationURL    string            `json:"location_url" validate:"required,url"`
	Type           string            `json:"type" validate:"required,oneof=container lambda openwhisk webhook"`
	Method         string            `json:"method" validate:"omitempty,oneof=GET POST PUT"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds" validate:"gte=0,lte=300"`
	RateLimit      int               `json:"rate_limit" validate:"gte=0"`
	TriggerType    string            `json:"trigger_type" validate:"omitempty,oneof=command event both"`
	EventTypes     []string          `json:"event_types"`
	Priority       int               `json:"priority" validate:"gte=0"`
	ExecutionMode  string            `json:"execution_mode" validate:"omitempty,oneof=sequential parallel"`
	ModuleType     string            `json:"module_type" validate:"omitempty,oneof=local community"`
	MaxRetries     int               `json:"max_retries" validate:"gte=0,lte=10"`
}

// UpdateRequest is the JSON body for PUT /router/commands/{id}.
type UpdateRequest struct {
	Description    string            `json:"description" validate:"max=512"`
	LocationURL    string            `json:"location_url" validate:"required,url"`
	Type           string            `json:"type" validate:"required,oneof=container lambda openwhisk webhook"`
	Method         string            `json:"method" validate:"omitempty,oneof=GET POST PUT"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds" validate:"gte=0,lte=300"`
	RateLimit      int               `json:"rate_limit" validate:"gte=0"`
	TriggerType    string            `json:"trigger_type" validate:"omitempty,oneof=command event both"`
	EventTypes     []string          `json:"event_types"`
	Priority       int               `json:"priority" validate:"gte=0"`
	ExecutionMode  string            `json:"execution_mode" validate:"omitempty,oneof=sequential parallel"`
	ModuleType     string            `json:"module_type" validate:"omitempty,oneof=local community"`
	MaxRetries     int               `json:"max_retries" validate:"gte=0,lte=10"`
	Active         bool              `json:"active"`
}

// PermissionRequest is the JSON body for the permission toggle endpoint.
type PermissionRequest struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}
