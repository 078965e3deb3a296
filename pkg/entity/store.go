package entity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entityColumns = `entity_id, platform, server_id, channel_id, owner, config, active, created_at`

// Store provides database operations for entities and entity groups.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an entity Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanEntityRow(row pgx.Row) (Entity, error) {
	var e Entity
	err := row.Scan(
		&e.EntityID, &e.Platform, &e.ServerID, &e.ChannelID,
		&e.Owner, &e.Config, &e.Active, &e.CreatedAt,
	)
	return e, err
}

func scanEntityRows(rows pgx.Rows) ([]Entity, error) {
	defer rows.Close()
	var items []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(
			&e.EntityID, &e.Platform, &e.ServerID, &e.ChannelID,
			&e.Owner, &e.Config, &e.Active, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning entity row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity rows: %w", err)
	}
	return items, nil
}

// Ensure creates the entity on first sight and returns it. For Discord and
// Slack events without a channel it also lazily creates a server-wide default
// entity group containing the entity.
func (s *Store) Ensure(ctx context.Context, platform, serverID, channelID string) (Entity, error) {
	entityID := MakeEntityID(platform, serverID, channelID)

	insert := `INSERT INTO entities (entity_id, platform, server_id, channel_id)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (entity_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, insert, entityID, platform, serverID, channelID)
	if err != nil {
		return Entity{}, fmt.Errorf("ensuring entity: %w", err)
	}

	if tag.RowsAffected() > 0 && channelID == "" && (platform == "discord" || platform == "slack") {
		if err := s.ensureDefaultGroup(ctx, platform, serverID, entityID); err != nil {
			return Entity{}, err
		}
	}

	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE entity_id = $1`, entityID)
	return scanEntityRow(row)
}

// ensureDefaultGroup creates the server-wide group for a channel-less platform
// server, seeded with the given entity.
func (s *Store) ensureDefaultGroup(ctx context.Context, platform, serverID, entityID string) error {
	query := `INSERT INTO entity_groups (name, platform, server_id, entity_ids, is_default)
	VALUES ($1, $2, $3, $4, true)
	ON CONFLICT (platform, server_id, name) DO NOTHING`
	name := platform + ":" + serverID
	if _, err := s.pool.Exec(ctx, query, name, platform, serverID, []string{entityID}); err != nil {
		return fmt.Errorf("ensuring default entity group: %w", err)
	}
	return nil
}

// Get returns a single entity by ID.
func (s *Store) Get(ctx context.Context, entityID string) (Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE entity_id = $1`, entityID)
	return scanEntityRow(row)
}

// List returns active entities, optionally filtered by platform.
func (s *Store) List(ctx context.Context, platform string) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE active`
	var args []any
	if platform != "" {
		query += ` AND platform = $1`
		args = append(args, platform)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	return scanEntityRows(rows)
}

// Count returns the number of active entities.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM entities WHERE active`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting entities: %w", err)
	}
	return count, nil
}
