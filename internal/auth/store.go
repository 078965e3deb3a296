package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, name, account_type, platform, key_hash, key_prefix, permissions, rate_limit, expires_at, active, last_used, created_at`

// Store provides database operations for service accounts and usage logging.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a service account Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scanAccountRow scans a pgx.Row into an Account.
func scanAccountRow(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.Name, &a.AccountType, &a.Platform, &a.KeyHash, &a.KeyPrefix,
		&a.Permissions, &a.RateLimit, &a.ExpiresAt, &a.Active, &a.LastUsed, &a.CreatedAt,
	)
	return a, err
}

// scanAccountRows scans multiple rows into Account slices.
func scanAccountRows(rows pgx.Rows) ([]Account, error) {
	defer rows.Close()
	var items []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(
			&a.ID, &a.Name, &a.AccountType, &a.Platform, &a.KeyHash, &a.KeyPrefix,
			&a.Permissions, &a.RateLimit, &a.ExpiresAt, &a.Active, &a.LastUsed, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning service account row: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating service account rows: %w", err)
	}
	return items, nil
}

// GetByKeyHash returns the service account whose key hash matches.
func (s *Store) GetByKeyHash(ctx context.Context, keyHash string) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM service_accounts WHERE key_hash = $1`
	row := s.pool.QueryRow(ctx, query, keyHash)
	return scanAccountRow(row)
}

// Get returns a single service account by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM service_accounts WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	return scanAccountRow(row)
}

// List returns all service accounts, newest first.
func (s *Store) List(ctx context.Context) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM service_accounts ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing service accounts: %w", err)
	}
	return scanAccountRows(rows)
}

// GetByName returns a single service account by its unique name.
func (s *Store) GetByName(ctx context.Context, name string) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM service_accounts WHERE name = $1`
	row := s.pool.QueryRow(ctx, query, name)
	return scanAccountRow(row)
}

// CreateParams holds parameters for creating a service account.
type CreateParams struct {
	Name        string
	AccountType string
	Platform    string
	KeyHash     string
	KeyPrefix   string
	Permissions []string
	RateLimit   int
	ExpiresAt   pgtype.Timestamptz
}

// Create inserts a new service account and returns the created row.
func (s *Store) Create(ctx context.Context, p CreateParams) (Account, error) {
	query := `INSERT INTO service_accounts (name, account_type, platform, key_hash, key_prefix, permissions, rate_limit, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING ` + accountColumns

	row := s.pool.QueryRow(ctx, query,
		p.Name, p.AccountType, p.Platform, p.KeyHash, p.KeyPrefix, p.Permissions, p.RateLimit, p.ExpiresAt,
	)
	return scanAccountRow(row)
}

// Deactivate marks a service account inactive. Its key stops authenticating
// immediately; usage history is retained.
func (s *Store) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE service_accounts SET active = false WHERE id = $1 AND active`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivating service account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete permanently removes a service account.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM service_accounts WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting service account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountUsageSince counts API calls recorded for the account after the given time.
func (s *Store) CountUsageSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	query := `SELECT count(*) FROM api_usage_log WHERE account_id = $1 AND created_at > $2`
	var count int
	if err := s.pool.QueryRow(ctx, query, accountID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting account usage: %w", err)
	}
	return count, nil
}

// InsertUsage writes a single usage log row.
func (s *Store) InsertUsage(ctx context.Context, e UsageEntry) error {
	query := `INSERT INTO api_usage_log (account_id, endpoint, method, status_code, latency_ms, request_size, response_size, remote_addr, user_agent)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, query,
		e.AccountID, e.Endpoint, e.Method, e.StatusCode, e.LatencyMS,
		e.RequestSize, e.ResponseSize, e.RemoteAddr, e.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("inserting usage log row: %w", err)
	}
	return nil
}

// TouchLastUsed updates last_used for the given accounts.
func (s *Store) TouchLastUsed(ctx context.Context, accountIDs []uuid.UUID) error {
	if len(accountIDs) == 0 {
		return nil
	}
	query := `UPDATE service_accounts SET last_used = now() WHERE id = ANY($1)`
	if _, err := s.pool.Exec(ctx, query, accountIDs); err != nil {
		return fmt.Errorf("touching last_used: %w", err)
	}
	return nil
}
