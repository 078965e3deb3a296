package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entityColumns = `id, platform, server_id, channel_id, entity_id, claimed_by, claimed_at,
	claim_expires, last_checkin, status, is_live, live_since, viewer_count,
	error_count, last_error, last_activity, priority, metadata, created_at`

// availablePredicate selects rows a container may claim: unclaimed, expired,
// or stale-checkin claims.
const availablePredicate = `(
	status = 'available'
	OR claimed_by IS NULL
	OR claim_expires < now()
	OR (status = 'claimed' AND last_checkin IS NOT NULL AND last_checkin < now() - $1::interval)
)`

// Store provides database operations for coordination rows. Candidate listing
// goes to the read pool; claims and state changes to the primary.
type Store struct {
	pool *pgxpool.Pool
	read *pgxpool.Pool

	checkinTimeout time.Duration
	claimDuration  time.Duration
}

// NewStore creates a coordination Store.
func NewStore(pool, read *pgxpool.Pool, checkinTimeout, claimDuration time.Duration) *Store {
	if checkinTimeout <= 0 {
		checkinTimeout = 6 * time.Minute
	}
	if claimDuration <= 0 {
		claimDuration = 30 * time.Minute
	}
	return &Store{pool: pool, read: read, checkinTimeout: checkinTimeout, claimDuration: claimDuration}
}

func scanEntityRows(rows pgx.Rows) ([]Entity, error) {
	defer rows.Close()
	var items []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(
			&e.ID, &e.Platform, &e.ServerID, &e.ChannelID, &e.EntityID, &e.ClaimedBy, &e.ClaimedAt,
			&e.ClaimExpires, &e.LastCheckin, &e.Status, &e.IsLive, &e.LiveSince, &e.ViewerCount,
			&e.ErrorCount, &e.LastError, &e.LastActivity, &e.Priority, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning coordination row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating coordination rows: %w", err)
	}
	return items, nil
}

// interval renders a duration as a Postgres interval literal.
func interval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}

// CleanupExpiredClaims releases rows whose claim expired or whose container
// stopped checking in. Returns the number of rows released.
func (s *Store) CleanupExpiredClaims(ctx context.Context) (int, error) {
	query := `UPDATE coordination_entities
	SET status = 'available', claimed_by = NULL, claimed_at = NULL,
	    claim_expires = NULL, last_checkin = NULL
	WHERE claimed_by IS NOT NULL
	  AND (claim_expires < now()
	       OR (status = 'claimed' AND last_checkin IS NOT NULL AND last_checkin < now() - $1::interval))`
	tag, err := s.pool.Exec(ctx, query, interval(s.checkinTimeout))
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Candidates returns claimable rows for the platform ordered by desirability:
// live first, then priority, viewer count, and least recently active.
func (s *Store) Candidates(ctx context.Context, platform string, limit int) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM coordination_entities
	WHERE platform = $2 AND ` + availablePredicate + `
	ORDER BY is_live DESC, priority ASC, viewer_count DESC, last_activity ASC NULLS FIRST
	LIMIT $3`
	rows, err := s.read.Query(ctx, query, interval(s.checkinTimeout), platform, limit)
	if err != nil {
		return nil, fmt.Errorf("listing claim candidates: %w", err)
	}
	return scanEntityRows(rows)
}

// ClaimOne attempts the compare-and-set claim of one row. The availability
// predicate in the WHERE clause makes concurrent claims race safely: exactly
// one container's UPDATE affects the row.
func (s *Store) ClaimOne(ctx context.Context, entityID, containerID string) (bool, error) {
	query := `UPDATE coordination_entities
	SET status = 'claimed', claimed_by = $2, claimed_at = now(),
	    claim_expires = now() + $3::interval, last_checkin = now()
	WHERE entity_id = $4 AND ` + availablePredicate
	tag, err := s.pool.Exec(ctx, query, interval(s.checkinTimeout), containerID, interval(s.claimDuration), entityID)
	if err != nil {
		return false, fmt.Errorf("claiming entity: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release returns a container's claims to the pool. With entityIDs empty every
// claim the container holds is released. Returns the count released.
func (s *Store) Release(ctx context.Context, containerID string, entityIDs []string) (int, error) {
	query := `UPDATE coordination_entities
	SET status = 'available', claimed_by = NULL, claimed_at = NULL,
	    claim_expires = NULL, last_checkin = NULL
	WHERE claimed_by = $1`
	args := []any{containerID}
	if len(entityIDs) > 0 {
		query += ` AND entity_id = ANY($2)`
		args = append(args, entityIDs)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("releasing claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Checkin refreshes the container's claims: last_checkin now, expiry extended
// by the claim duration. Returns the number of rows refreshed.
func (s *Store) Checkin(ctx context.Context, containerID string) (int, error) {
	query := `UPDATE coordination_entities
	SET last_checkin = now(), claim_expires = now() + $2::interval
	WHERE claimed_by = $1`
	tag, err := s.pool.Exec(ctx, query, containerID, interval(s.claimDuration))
	if err != nil {
		return 0, fmt.Errorf("checking in: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// HeartbeatSnapshot checks in and returns the container's claimed rows.
func (s *Store) HeartbeatSnapshot(ctx context.Context, containerID string) ([]Entity, error) {
	if _, err := s.Checkin(ctx, containerID); err != nil {
		return nil, err
	}
	query := `SELECT ` + entityColumns + ` FROM coordination_entities
	WHERE claimed_by = $1 ORDER BY entity_id`
	rows, err := s.pool.Query(ctx, query, containerID)
	if err != nil {
		return nil, fmt.Errorf("listing claimed rows: %w", err)
	}
	return scanEntityRows(rows)
}

// StatusUpdate carries the optional fields of a status report.
type StatusUpdate struct {
	IsLive      *bool           `json:"is_live,omitempty"`
	ViewerCount *int            `json:"viewer_count,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	HasActivity bool            `json:"has_activity,omitempty"`
}

// UpdateStatus applies a collector's status report to one of its claimed rows.
// Live transitions stamp live_since; going offline clears it. Activity resets
// the error count.
func (s *Store) UpdateStatus(ctx context.Context, containerID, entityID string, u StatusUpdate) error {
	query := `UPDATE coordination_entities SET claimed_at = claimed_at`
	args := []any{containerID, entityID}

	if u.IsLive != nil {
		if *u.IsLive {
			query += `, is_live = true, status = 'live',
			live_since = COALESCE(live_since, now())`
		} else {
			query += `, is_live = false, status = 'offline', live_since = NULL`
		}
	}
	if u.ViewerCount != nil {
		args = append(args, *u.ViewerCount)
		query += fmt.Sprintf(`, viewer_count = $%d`, len(args))
	}
	if len(u.Metadata) > 0 {
		args = append(args, u.Metadata)
		query += fmt.Sprintf(`, metadata = $%d`, len(args))
	}
	if u.HasActivity {
		query += `, last_activity = now(), error_count = 0`
	}
	query += ` WHERE claimed_by = $1 AND entity_id = $2`

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating entity status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ReportError bumps the row's error count, recording the message; the third
// consecutive error flips the row to status error. Returns the new count.
func (s *Store) ReportError(ctx context.Context, containerID, entityID, message string) (int, error) {
	query := `UPDATE coordination_entities
	SET error_count = error_count + 1, last_error = $3,
	    status = CASE WHEN error_count + 1 >= $4 THEN 'error' ELSE status END
	WHERE claimed_by = $1 AND entity_id = $2
	RETURNING error_count`
	var count int
	err := s.pool.QueryRow(ctx, query, containerID, entityID, message, errorThreshold).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("reporting entity error: %w", err)
	}
	return count, nil
}

// ReleaseOffline releases the container's claims on rows that went offline,
// freeing capacity for live channels. Returns the count released.
func (s *Store) ReleaseOffline(ctx context.Context, containerID, platform string) (int, error) {
	query := `UPDATE coordination_entities
	SET status = 'available', claimed_by = NULL, claimed_at = NULL,
	    claim_expires = NULL, last_checkin = NULL
	WHERE claimed_by = $1 AND platform = $2 AND NOT is_live AND status = 'offline'`
	tag, err := s.pool.Exec(ctx, query, containerID, platform)
	if err != nil {
		return 0, fmt.Errorf("releasing offline claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Populate seeds coordination rows for a platform from the servers table.
// Existing rows are untouched. Returns the number of rows created.
func (s *Store) Populate(ctx context.Context, platform string) (int, error) {
	query := `INSERT INTO coordination_entities (platform, server_id, channel_id, entity_id, priority)
	SELECT sv.platform, sv.server_id, sv.channel_id,
	       CASE WHEN sv.platform = 'twitch' OR sv.channel_id = ''
	            THEN sv.platform || '+' || sv.server_id
	            ELSE sv.platform || '+' || sv.server_id || '+' || sv.channel_id
	       END,
	       sv.priority
	FROM servers sv
	WHERE sv.platform = $1
	ON CONFLICT (platform, server_id, channel_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query, platform)
	if err != nil {
		return 0, fmt.Errorf("populating coordination rows: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListClaimed returns rows optionally filtered by container or platform.
func (s *Store) ListClaimed(ctx context.Context, containerID, platform string) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM coordination_entities WHERE true`
	var args []any
	if containerID != "" {
		args = append(args, containerID)
		query += fmt.Sprintf(` AND claimed_by = $%d`, len(args))
	}
	if platform != "" {
		args = append(args, platform)
		query += fmt.Sprintf(` AND platform = $%d`, len(args))
	}
	query += ` ORDER BY platform, entity_id`
	rows, err := s.read.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing coordination rows: %w", err)
	}
	return scanEntityRows(rows)
}

// Stats returns fleet counts, optionally scoped to one platform.
func (s *Store) Stats(ctx context.Context, platform string) (Stats, error) {
	where := ""
	var args []any
	if platform != "" {
		where = ` WHERE platform = $1`
		args = append(args, platform)
	}

	rows, err := s.read.Query(ctx,
		`SELECT status, count(*), count(*) FILTER (WHERE is_live)
		FROM coordination_entities`+where+` GROUP BY status`, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("reading coordination stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{ByStatus: make(map[string]int)}
	for rows.Next() {
		var status string
		var count, live int
		if err := rows.Scan(&status, &count, &live); err != nil {
			return Stats{}, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
		stats.Live += live
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterating stats rows: %w", err)
	}

	containerQuery := `SELECT count(DISTINCT claimed_by) FROM coordination_entities
	WHERE claimed_by IS NOT NULL`
	if platform != "" {
		containerQuery += ` AND platform = $1`
	}
	if err := s.read.QueryRow(ctx, containerQuery, args...).Scan(&stats.Containers); err != nil {
		return Stats{}, fmt.Errorf("counting containers: %w", err)
	}
	return stats, nil
}
