package community

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// PermissionCheck is one item of a bulk permission query.
type PermissionCheck struct {
	UserID     string `json:"user_id" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
	Permission string `json:"permission" validate:"required"`
}

// RoleRequest is one item of a bulk role assignment. Entity-scoped when
// EntityID is set, community-scoped otherwise.
type RoleRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	EntityID   string `json:"entity_id,omitempty"`
	Community  int64  `json:"community_id,omitempty" validate:"gte=0"`
	Role       string `json:"role" validate:"required,oneof=user moderator owner"`
	AssignedBy string `json:"assigned_by,omitempty" validate:"max=128"`
}

// roleWriter covers the role writes Bulk needs, so assignments can be tested
// without a database.
type roleWriter interface {
	SetEntityRole(ctx context.Context, entityID, userID, role, assignedBy string) error
	SetCommunityRole(ctx context.Context, communityID int64, userID, role, assignedBy string) error
}

// Bulk fans RBAC operations out over a bounded worker pool and aggregates
// results keyed by user ID.
type Bulk struct {
	store    roleWriter
	resolver *Resolver
	workers  int
}

// NewBulk creates a Bulk helper. workers bounds fan-out concurrency.
func NewBulk(store roleWriter, resolver *Resolver, workers int) *Bulk {
	if workers <= 0 {
		workers = 10
	}
	return &Bulk{store: store, resolver: resolver, workers: workers}
}

// CheckPermissions evaluates each check concurrently and returns a map keyed
// by "user_id:entity_id:permission".
func (b *Bulk) CheckPermissions(ctx context.Context, checks []PermissionCheck) (map[string]bool, error) {
	results := make(map[string]bool, len(checks))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for _, c := range checks {
		c := c
		g.Go(func() error {
			role, err := b.resolver.ResolveRole(ctx, c.UserID, c.EntityID)
			if err != nil {
				return err
			}
			ok := HasPermission(role, c.Permission)
			mu.Lock()
			results[c.UserID+":"+c.EntityID+":"+c.Permission] = ok
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// AssignRoles applies each role assignment concurrently. Entity-scoped when
// EntityID is set, community-scoped otherwise.
func (b *Bulk) AssignRoles(ctx context.Context, reqs []RoleRequest) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for _, req := range reqs {
		req := req
		g.Go(func() error {
			if req.EntityID != "" {
				return b.store.SetEntityRole(ctx, req.EntityID, req.UserID, req.Role, req.AssignedBy)
			}
			return b.store.SetCommunityRole(ctx, req.Community, req.UserID, req.Role, req.AssignedBy)
		})
	}

	return g.Wait()
}

// GetRoles resolves the effective role of every user for the entity scope.
func (b *Bulk) GetRoles(ctx context.Context, userIDs []string, entityID string) (map[string]string, error) {
	results := make(map[string]string, len(userIDs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			role, err := b.resolver.ResolveRole(ctx, userID, entityID)
			if err != nil {
				return err
			}
			mu.Lock()
			results[userID] = role
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
