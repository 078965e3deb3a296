package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const commandColumns = `id, prefix, command, description, location_url, type, method, headers,
	timeout_seconds, rate_limit, trigger_type, event_types, priority,
	execution_mode, module_type, max_retries, active, created_at, updated_at`

const executionColumns = `execution_id, command_id, entity_id, user_id, user_name, parameters,
	payload, response_status, response_data, execution_time_ms, retry_count, status, error, created_at`

// Store provides database operations for commands, permissions, and the
// execution log. Hot lookups go to the read pool; writes to the primary.
type Store struct {
	pool *pgxpool.Pool
	read *pgxpool.Pool
}

// NewStore creates a command Store. read may equal pool when no replica is
// configured.
func NewStore(pool, read *pgxpool.Pool) *Store {
	return &Store{pool: pool, read: read}
}

func scanCommandRow(row pgx.Row) (Command, error) {
	var c Command
	err := row.Scan(
		&c.ID, &c.Prefix, &c.Name, &c.Description, &c.LocationURL, &c.Type, &c.Method, &c.Headers,
		&c.TimeoutSeconds, &c.RateLimit, &c.TriggerType, &c.EventTypes, &c.Priority,
		&c.ExecutionMode, &c.ModuleType, &c.MaxRetries, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func scanCommandRows(rows pgx.Rows) ([]Command, error) {
	defer rows.Close()
	var items []Command
	for rows.Next() {
		var c Command
		if err := rows.Scan(
			&c.ID, &c.Prefix, &c.Name, &c.Description, &c.LocationURL, &c.Type, &c.Method, &c.Headers,
			&c.TimeoutSeconds, &c.RateLimit, &c.TriggerType, &c.EventTypes, &c.Priority,
			&c.ExecutionMode, &c.ModuleType, &c.MaxRetries, &c.Active, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning command row: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command rows: %w", err)
	}
	return items, nil
}

// GetByPrefixName returns the active command for (prefix, name).
func (s *Store) GetByPrefixName(ctx context.Context, prefix, name string) (Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE prefix = $1 AND command = $2 AND active`
	row := s.read.QueryRow(ctx, query, prefix, name)
	return scanCommandRow(row)
}

// Get returns a single command by ID regardless of active flag.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE id = $1`
	row := s.read.QueryRow(ctx, query, id)
	return scanCommandRow(row)
}

// ListActive returns active commands, optionally filtered by module type.
func (s *Store) ListActive(ctx context.Context, moduleType string) ([]Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE active`
	var args []any
	if moduleType != "" {
		query += ` AND module_type = $1`
		args = append(args, moduleType)
	}
	query += ` ORDER BY prefix, command`

	rows, err := s.read.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing commands: %w", err)
	}
	return scanCommandRows(rows)
}

// ListEventCommands returns active commands triggered by the message type and
// permitted for the entity, ordered by ascending priority.
func (s *Store) ListEventCommands(ctx context.Context, entityID, messageType string) ([]Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands c
	WHERE c.active
	  AND c.trigger_type IN ('event', 'both')
	  AND c.event_types @> ARRAY[$2]::text[]
	  AND EXISTS (
		SELECT 1 FROM command_permissions p
		WHERE p.command_id = c.id AND p.entity_id = $1 AND p.enabled
	  )
	ORDER BY c.priority ASC`

	rows, err := s.read.Query(ctx, query, entityID, messageType)
	if err != nil {
		return nil, fmt.Errorf("listing event commands: %w", err)
	}
	return scanCommandRows(rows)
}

// GetPermission returns the enabled permission row for (command, entity).
func (s *Store) GetPermission(ctx context.Context, commandID uuid.UUID, entityID string) (Permission, error) {
	query := `SELECT command_id, entity_id, enabled, config, usage_count, last_used
	FROM command_permissions WHERE command_id = $1 AND entity_id = $2 AND enabled`
	var p Permission
	err := s.read.QueryRow(ctx, query, commandID, entityID).Scan(
		&p.CommandID, &p.EntityID, &p.Enabled, &p.Config, &p.UsageCount, &p.LastUsed,
	)
	return p, err
}

// SetPermission upserts the permission row for (command, entity).
func (s *Store) SetPermission(ctx context.Context, commandID uuid.UUID, entityID string, enabled bool, config json.RawMessage) error {
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}
	query := `INSERT INTO command_permissions (command_id, entity_id, enabled, config)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (command_id, entity_id) DO UPDATE
	SET enabled = EXCLUDED.enabled, config = EXCLUDED.config`
	if _, err := s.pool.Exec(ctx, query, commandID, entityID, enabled, config); err != nil {
		return fmt.Errorf("setting command permission: %w", err)
	}
	return nil
}

// TouchPermissionUsage bumps usage_count and last_used after a dispatch.
func (s *Store) TouchPermissionUsage(ctx context.Context, commandID uuid.UUID, entityID string) error {
	query := `UPDATE command_permissions
	SET usage_count = usage_count + 1, last_used = now()
	WHERE command_id = $1 AND entity_id = $2`
	if _, err := s.pool.Exec(ctx, query, commandID, entityID); err != nil {
		return fmt.Errorf("touching permission usage: %w", err)
	}
	return nil
}

// CreateExecutionParams holds the fields of a new pending execution row.
type CreateExecutionParams struct {
	CommandID  uuid.UUID
	EntityID   string
	UserID     string
	UserName   string
	Parameters []string
	Payload    json.RawMessage
}

// CreateExecution inserts a pending execution row and returns its ID.
func (s *Store) CreateExecution(ctx context.Context, p CreateExecutionParams) (uuid.UUID, error) {
	if len(p.Payload) == 0 {
		p.Payload = json.RawMessage(`{}`)
	}
	query := `INSERT INTO command_executions (command_id, entity_id, user_id, user_name, parameters, payload)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING execution_id`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		p.CommandID, p.EntityID, p.UserID, p.UserName, p.Parameters, p.Payload,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating execution: %w", err)
	}
	return id, nil
}

// FinishExecutionParams holds the outcome of an execution.
type FinishExecutionParams struct {
	Status          string
	ResponseStatus  int
	ResponseData    json.RawMessage
	ExecutionTimeMS int64
	RetryCount      int
	Error           *string
}

// FinishExecution records the execution outcome.
func (s *Store) FinishExecution(ctx context.Context, executionID uuid.UUID, p FinishExecutionParams) error {
	query := `UPDATE command_executions
	SET status = $2, response_status = $3, response_data = $4,
	    execution_time_ms = $5, retry_count = $6, error = $7
	WHERE execution_id = $1`
	tag, err := s.pool.Exec(ctx, query,
		executionID, p.Status, p.ResponseStatus, p.ResponseData,
		p.ExecutionTimeMS, p.RetryCount, p.Error,
	)
	if err != nil {
		return fmt.Errorf("finishing execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetExecution returns a single execution by ID.
func (s *Store) GetExecution(ctx context.Context, executionID uuid.UUID) (Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM command_executions WHERE execution_id = $1`
	var e Execution
	err := s.read.QueryRow(ctx, query, executionID).Scan(
		&e.ExecutionID, &e.CommandID, &e.EntityID, &e.UserID, &e.UserName, &e.Parameters,
		&e.Payload, &e.ResponseStatus, &e.ResponseData, &e.ExecutionTimeMS,
		&e.RetryCount, &e.Status, &e.Error, &e.CreatedAt,
	)
	return e, err
}

// RecordRateLimitBucket bumps the minute-floor bucket recording a rejected
// dispatch. Called fire-and-forget: failures must not affect admission.
func (s *Store) RecordRateLimitBucket(ctx context.Context, commandID uuid.UUID, entityID, userID string) error {
	windowStart := time.Now().UTC().Truncate(time.Minute)
	query := `INSERT INTO rate_limit_buckets (command_id, entity_id, user_id, window_start, request_count)
	VALUES ($1, $2, $3, $4, 1)
	ON CONFLICT (command_id, entity_id, user_id, window_start)
	DO UPDATE SET request_count = rate_limit_buckets.request_count + 1`
	if _, err := s.pool.Exec(ctx, query, commandID, entityID, userID, windowStart); err != nil {
		return fmt.Errorf("recording rate limit bucket: %w", err)
	}
	return nil
}

// Create inserts a new command definition.
func (s *Store) Create(ctx context.Context, req CreateRequest) (Command, error) {
	query := `INSERT INTO commands (
		prefix, command, description, location_url, type, method, headers,
		timeout_seconds, rate_limit, trigger_type, event_types, priority,
		execution_mode, module_type, max_retries
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING ` + commandColumns

	row := s.pool.QueryRow(ctx, query,
		req.Prefix, req.Name, req.Description, req.LocationURL, req.Type,
		defaultStr(req.Method, "POST"), headersJSON(req.Headers),
		defaultInt(req.TimeoutSeconds, 30), req.RateLimit,
		defaultStr(req.TriggerType, TriggerCommand), textArray(req.EventTypes),
		defaultInt(req.Priority, 100), defaultStr(req.ExecutionMode, ModeSequential),
		defaultStr(req.ModuleType, "local"), defaultInt(req.MaxRetries, 3),
	)
	return scanCommandRow(row)
}

// Update replaces all editable fields of a command.
func (s *Store) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (Command, error) {
	query := `UPDATE commands
	SET description = $2, location_url = $3, type = $4, method = $5, headers = $6,
	    timeout_seconds = $7, rate_limit = $8, trigger_type = $9, event_types = $10,
	    priority = $11, execution_mode = $12, module_type = $13, max_retries = $14,
	    active = $15, updated_at = now()
	WHERE id = $1
	RETURNING ` + commandColumns

	row := s.pool.QueryRow(ctx, query,
		id, req.Description, req.LocationURL, req.Type,
		defaultStr(req.Method, "POST"), headersJSON(req.Headers),
		defaultInt(req.TimeoutSeconds, 30), req.RateLimit,
		defaultStr(req.TriggerType, TriggerCommand), textArray(req.EventTypes),
		defaultInt(req.Priority, 100), defaultStr(req.ExecutionMode, ModeSequential),
		defaultStr(req.ModuleType, "local"), defaultInt(req.MaxRetries, 3), req.Active,
	)
	return scanCommandRow(row)
}

// SetActive toggles a command's active flag.
func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE commands SET active = $2, updated_at = now() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("toggling command: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes a command and, via cascade, its permissions and executions.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM commands WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting command: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// InsertModuleResponse records a module's reply for an execution.
func (s *Store) InsertModuleResponse(ctx context.Context, m ModuleResponse) (int64, error) {
	query := `INSERT INTO module_responses (
		execution_id, module_name, success, response_action,
		chat_message, media_type, media_url, ticker_text, ticker_duration,
		form_payload, content_type, content, duration, style
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, query,
		m.ExecutionID, m.ModuleName, m.Success, m.ResponseAction,
		m.ChatMessage, m.MediaType, m.MediaURL, m.TickerText, m.TickerDuration,
		m.FormPayload, m.ContentType, m.Content, m.Duration, m.Style,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting module response: %w", err)
	}
	return id, nil
}

// ListModuleResponses returns all replies recorded for an execution.
func (s *Store) ListModuleResponses(ctx context.Context, executionID uuid.UUID) ([]ModuleResponse, error) {
	query := `SELECT id, execution_id, module_name, success, response_action,
		chat_message, media_type, media_url, ticker_text, ticker_duration,
		form_payload, content_type, content, duration, style, created_at
	FROM module_responses WHERE execution_id = $1 ORDER BY created_at`

	rows, err := s.read.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("listing module responses: %w", err)
	}
	defer rows.Close()

	var items []ModuleResponse
	for rows.Next() {
		var m ModuleResponse
		if err := rows.Scan(
			&m.ID, &m.ExecutionID, &m.ModuleName, &m.Success, &m.ResponseAction,
			&m.ChatMessage, &m.MediaType, &m.MediaURL, &m.TickerText, &m.TickerDuration,
			&m.FormPayload, &m.ContentType, &m.Content, &m.Duration, &m.Style, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning module response row: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating module response rows: %w", err)
	}
	return items, nil
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func textArray(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func headersJSON(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}
