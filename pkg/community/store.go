package community

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for communities, memberships, and roles.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a community Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureGlobal verifies the GLOBAL community exists. It is created by
// migration; this is a boot-time sanity check.
func (s *Store) EnsureGlobal(ctx context.Context) error {
	query := `INSERT INTO communities (id, name) VALUES ($1, 'GLOBAL') ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, GlobalCommunityID); err != nil {
		return fmt.Errorf("ensuring GLOBAL community: %w", err)
	}
	return nil
}

// EnsureUserInGlobal joins the user to the GLOBAL community with role user.
// Idempotent: existing membership and role rows are left untouched.
func (s *Store) EnsureUserInGlobal(ctx context.Context, userID string) error {
	return s.EnsureUsersInGlobalBulk(ctx, []string{userID})
}

// EnsureUsersInGlobalBulk joins every user to GLOBAL in two set-based
// statements. Used by batch ingest, which onboards the union of user IDs once.
func (s *Store) EnsureUsersInGlobalBulk(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}

	membership := `INSERT INTO community_memberships (community_id, user_id)
	SELECT $1, unnest($2::text[])
	ON CONFLICT (community_id, user_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, membership, GlobalCommunityID, userIDs); err != nil {
		return fmt.Errorf("ensuring global memberships: %w", err)
	}

	rbac := `INSERT INTO community_rbac (community_id, user_id, role)
	SELECT $1, unnest($2::text[]), $3
	ON CONFLICT (community_id, user_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, rbac, GlobalCommunityID, userIDs, RoleUser); err != nil {
		return fmt.Errorf("ensuring global roles: %w", err)
	}

	return nil
}

// GetCommunityRole returns the user's active role in the community, or
// pgx.ErrNoRows when absent.
func (s *Store) GetCommunityRole(ctx context.Context, communityID int64, userID string) (string, error) {
	var role string
	query := `SELECT role FROM community_rbac WHERE community_id = $1 AND user_id = $2 AND active`
	if err := s.pool.QueryRow(ctx, query, communityID, userID).Scan(&role); err != nil {
		return "", err
	}
	return role, nil
}

// SetCommunityRole assigns a community role, ensuring membership first.
func (s *Store) SetCommunityRole(ctx context.Context, communityID int64, userID, role, assignedBy string) error {
	if _, ok := RoleLevel[role]; !ok {
		return fmt.Errorf("unknown role %q", role)
	}

	membership := `INSERT INTO community_memberships (community_id, user_id, invited_by)
	VALUES ($1, $2, $3)
	ON CONFLICT (community_id, user_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, membership, communityID, userID, assignedBy); err != nil {
		return fmt.Errorf("ensuring membership: %w", err)
	}

	rbac := `INSERT INTO community_rbac (community_id, user_id, role, assigned_by)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (community_id, user_id) DO UPDATE
	SET role = EXCLUDED.role, assigned_by = EXCLUDED.assigned_by, assigned_at = now(), active = true`
	if _, err := s.pool.Exec(ctx, rbac, communityID, userID, role, assignedBy); err != nil {
		return fmt.Errorf("setting community role: %w", err)
	}
	return nil
}

// GetEntityRole returns the user's active entity-scoped role, or pgx.ErrNoRows.
func (s *Store) GetEntityRole(ctx context.Context, entityID, userID string) (string, error) {
	var role string
	query := `SELECT role FROM entity_roles WHERE entity_id = $1 AND user_id = $2 AND active`
	if err := s.pool.QueryRow(ctx, query, entityID, userID).Scan(&role); err != nil {
		return "", err
	}
	return role, nil
}

// SetEntityRole assigns an entity-scoped role. It never touches community
// membership: entity roles are a pure override.
func (s *Store) SetEntityRole(ctx context.Context, entityID, userID, role, assignedBy string) error {
	if _, ok := RoleLevel[role]; !ok {
		return fmt.Errorf("unknown role %q", role)
	}

	query := `INSERT INTO entity_roles (entity_id, user_id, role, assigned_by)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (entity_id, user_id) DO UPDATE
	SET role = EXCLUDED.role, assigned_by = EXCLUDED.assigned_by, assigned_at = now(), active = true`
	if _, err := s.pool.Exec(ctx, query, entityID, userID, role, assignedBy); err != nil {
		return fmt.Errorf("setting entity role: %w", err)
	}
	return nil
}

// CommunityForEntity returns the community of the first entity group that
// contains the entity and is mapped to a community, or pgx.ErrNoRows.
func (s *Store) CommunityForEntity(ctx context.Context, entityID string) (int64, error) {
	var communityID int64
	query := `SELECT community_id FROM entity_groups
	WHERE $1 = ANY(entity_ids) AND community_id IS NOT NULL
	ORDER BY id
	LIMIT 1`
	if err := s.pool.QueryRow(ctx, query, entityID).Scan(&communityID); err != nil {
		return 0, err
	}
	return communityID, nil
}

// IsMember reports whether the user has an active membership in the community.
func (s *Store) IsMember(ctx context.Context, communityID int64, userID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
		SELECT 1 FROM community_memberships WHERE community_id = $1 AND user_id = $2 AND active
	)`
	if err := s.pool.QueryRow(ctx, query, communityID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return exists, nil
}

// ListMemberships returns the user's active memberships.
func (s *Store) ListMemberships(ctx context.Context, userID string) ([]Membership, error) {
	query := `SELECT community_id, user_id, invited_by, active, joined_at
	FROM community_memberships WHERE user_id = $1 AND active ORDER BY joined_at`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var items []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.CommunityID, &m.UserID, &m.InvitedBy, &m.Active, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating membership rows: %w", err)
	}
	return items, nil
}

// IsNoRows reports whether err is the store's missing-row sentinel.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
