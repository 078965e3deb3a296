package community

import (
	"context"
	"fmt"
	"log/slog"
)

// RoleSource abstracts the role lookups the resolver needs, so precedence can
// be tested without a database. Missing rows are reported as pgx.ErrNoRows.
type RoleSource interface {
	GetEntityRole(ctx context.Context, entityID, userID string) (string, error)
	CommunityForEntity(ctx context.Context, entityID string) (int64, error)
	GetCommunityRole(ctx context.Context, communityID int64, userID string) (string, error)
}

// Resolver answers "what role does this user have for this scope" with the
// precedence entity role > containing community role > GLOBAL role.
type Resolver struct {
	source RoleSource
	logger *slog.Logger
}

// NewResolver creates a role Resolver.
func NewResolver(source RoleSource, logger *slog.Logger) *Resolver {
	return &Resolver{source: source, logger: logger}
}

// ResolveRole resolves the user's effective role for the entity scope.
//
//  1. An active entity role wins outright.
//  2. Otherwise the role in the first community containing the entity.
//  3. Otherwise the GLOBAL community role, which exists for every user that
//     has sent an event (defaulting to user if somehow missing).
func (r *Resolver) ResolveRole(ctx context.Context, userID, entityID string) (string, error) {
	role, err := r.source.GetEntityRole(ctx, entityID, userID)
	if err == nil {
		return role, nil
	}
	if !IsNoRows(err) {
		return "", fmt.Errorf("resolving entity role: %w", err)
	}

	communityID, err := r.source.CommunityForEntity(ctx, entityID)
	if err == nil {
		role, err = r.source.GetCommunityRole(ctx, communityID, userID)
		if err == nil {
			return role, nil
		}
		if !IsNoRows(err) {
			return "", fmt.Errorf("resolving community role: %w", err)
		}
	} else if !IsNoRows(err) {
		return "", fmt.Errorf("finding community for entity: %w", err)
	}

	role, err = r.source.GetCommunityRole(ctx, GlobalCommunityID, userID)
	if err != nil {
		if IsNoRows(err) {
			// Auto-join happens on first event; an unseen user is a plain user.
			return RoleUser, nil
		}
		return "", fmt.Errorf("resolving global role: %w", err)
	}
	return role, nil
}

// AuthorizeCommand reports whether the user may run the named command within
// the entity, based on the resolved role's permission bundle.
func (r *Resolver) AuthorizeCommand(ctx context.Context, userID, entityID, commandName string) (bool, error) {
	role, err := r.ResolveRole(ctx, userID, entityID)
	if err != nil {
		return false, err
	}
	return HasPermission(role, PermissionForCommand(commandName)), nil
}
