package stringmatch

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ruleColumns = `id, name, pattern, match_type, case_sensitive, enabled_entity_ids,
	action, command_to_execute, command_parameters, webhook_url,
	warning_message, block_message, priority, enabled, match_count, last_matched,
	created_at, updated_at`

// Store provides database operations for string match rules.
type Store struct {
	pool *pgxpool.Pool
	read *pgxpool.Pool
}

// NewStore creates a rule Store. read may equal pool.
func NewStore(pool, read *pgxpool.Pool) *Store {
	return &Store{pool: pool, read: read}
}

func scanRuleRow(row pgx.Row) (Rule, error) {
	var r Rule
	err := row.Scan(
		&r.ID, &r.Name, &r.Pattern, &r.MatchType, &r.CaseSensitive, &r.EntityIDs,
		&r.Action, &r.CommandToExecute, &r.CommandParameters, &r.WebhookURL,
		&r.WarningMessage, &r.BlockMessage, &r.Priority, &r.Enabled, &r.MatchCount, &r.LastMatched,
		&r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func scanRuleRows(rows pgx.Rows) ([]Rule, error) {
	defer rows.Close()
	var items []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Pattern, &r.MatchType, &r.CaseSensitive, &r.EntityIDs,
			&r.Action, &r.CommandToExecute, &r.CommandParameters, &r.WebhookURL,
			&r.WarningMessage, &r.BlockMessage, &r.Priority, &r.Enabled, &r.MatchCount, &r.LastMatched,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning rule row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rule rows: %w", err)
	}
	return items, nil
}

// ListForEntity returns enabled rules applicable to the entity (global rules
// plus rules explicitly scoped to it), ordered by ascending priority.
func (s *Store) ListForEntity(ctx context.Context, entityID string) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM string_match_rules
	WHERE enabled AND (cardinality(enabled_entity_ids) = 0 OR $1 = ANY(enabled_entity_ids))
	ORDER BY priority ASC, id ASC`

	rows, err := s.read.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing rules for entity: %w", err)
	}
	return scanRuleRows(rows)
}

// List returns all rules, enabled or not.
func (s *Store) List(ctx context.Context) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM string_match_rules ORDER BY priority ASC, id ASC`
	rows, err := s.read.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	return scanRuleRows(rows)
}

// Get returns a single rule by ID.
func (s *Store) Get(ctx context.Context, id int64) (Rule, error) {
	row := s.read.QueryRow(ctx, `SELECT `+ruleColumns+` FROM string_match_rules WHERE id = $1`, id)
	return scanRuleRow(row)
}

// Create inserts a new rule.
func (s *Store) Create(ctx context.Context, req RuleRequest) (Rule, error) {
	query := `INSERT INTO string_match_rules (
		name, pattern, match_type, case_sensitive, enabled_entity_ids,
		action, command_to_execute, command_parameters, webhook_url,
		warning_message, block_message, priority, enabled
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING ` + ruleColumns

	row := s.pool.QueryRow(ctx, query,
		req.Name, req.Pattern, req.MatchType, req.CaseSensitive, textArray(req.EntityIDs),
		req.Action, req.CommandToExecute, textArray(req.CommandParameters), req.WebhookURL,
		req.WarningMessage, req.BlockMessage, req.Priority, req.Enabled,
	)
	return scanRuleRow(row)
}

// Update replaces all editable fields of a rule.
func (s *Store) Update(ctx context.Context, id int64, req RuleRequest) (Rule, error) {
	query := `UPDATE string_match_rules
	SET name = $2, pattern = $3, match_type = $4, case_sensitive = $5,
	    enabled_entity_ids = $6, action = $7, command_to_execute = $8,
	    command_parameters = $9, webhook_url = $10, warning_message = $11,
	    block_message = $12, priority = $13, enabled = $14, updated_at = now()
	WHERE id = $1
	RETURNING ` + ruleColumns

	row := s.pool.QueryRow(ctx, query,
		id, req.Name, req.Pattern, req.MatchType, req.CaseSensitive, textArray(req.EntityIDs),
		req.Action, req.CommandToExecute, textArray(req.CommandParameters), req.WebhookURL,
		req.WarningMessage, req.BlockMessage, req.Priority, req.Enabled,
	)
	return scanRuleRow(row)
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM string_match_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IncrementMatch bumps match_count and last_matched after a rule fires.
func (s *Store) IncrementMatch(ctx context.Context, id int64) error {
	query := `UPDATE string_match_rules
	SET match_count = match_count + 1, last_matched = now()
	WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("incrementing rule match: %w", err)
	}
	return nil
}

func textArray(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
