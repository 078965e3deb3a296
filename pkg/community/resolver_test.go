package community

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
)

// fakeRoles is an in-memory RoleSource.
type fakeRoles struct {
	entityRoles    map[string]string // "entityID/userID" -> role
	communities    map[string]int64  // entityID -> community
	communityRoles map[string]string // "communityID/userID" -> role
	err            error
}

func (f *fakeRoles) GetEntityRole(_ context.Context, entityID, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if r, ok := f.entityRoles[entityID+"/"+userID]; ok {
		return r, nil
	}
	return "", pgx.ErrNoRows
}

func (f *fakeRoles) CommunityForEntity(_ context.Context, entityID string) (int64, error) {
	if id, ok := f.communities[entityID]; ok {
		return id, nil
	}
	return 0, pgx.ErrNoRows
}

func (f *fakeRoles) GetCommunityRole(_ context.Context, communityID int64, userID string) (string, error) {
	if r, ok := f.communityRoles[communityKey(communityID, userID)]; ok {
		return r, nil
	}
	return "", pgx.ErrNoRows
}

func communityKey(id int64, userID string) string {
	return fmt.Sprintf("%d/%s", id, userID)
}

func TestResolveRole_Precedence(t *testing.T) {
	logger := slog.Default()
	ctx := context.Background()

	t.Run("entity role wins", func(t *testing.T) {
		r := NewResolver(&fakeRoles{
			entityRoles:    map[string]string{"twitch+a/u1": RoleOwner},
			communities:    map[string]int64{"twitch+a": 5},
			communityRoles: map[string]string{communityKey(5, "u1"): RoleModerator},
		}, logger)

		role, err := r.ResolveRole(ctx, "u1", "twitch+a")
		if err != nil {
			t.Fatal(err)
		}
		if role != RoleOwner {
			t.Errorf("role = %q, want owner", role)
		}
	})

	t.Run("containing community next", func(t *testing.T) {
		r := NewResolver(&fakeRoles{
			communities:    map[string]int64{"twitch+a": 5},
			communityRoles: map[string]string{communityKey(5, "u1"): RoleModerator},
		}, logger)

		role, err := r.ResolveRole(ctx, "u1", "twitch+a")
		if err != nil {
			t.Fatal(err)
		}
		if role != RoleModerator {
			t.Errorf("role = %q, want moderator", role)
		}
	})

	t.Run("global fallback", func(t *testing.T) {
		r := NewResolver(&fakeRoles{
			communityRoles: map[string]string{communityKey(GlobalCommunityID, "u1"): RoleModerator},
		}, logger)

		role, err := r.ResolveRole(ctx, "u1", "twitch+a")
		if err != nil {
			t.Fatal(err)
		}
		if role != RoleModerator {
			t.Errorf("role = %q, want moderator", role)
		}
	})

	t.Run("unseen user defaults to user", func(t *testing.T) {
		r := NewResolver(&fakeRoles{}, logger)

		role, err := r.ResolveRole(ctx, "nobody", "twitch+a")
		if err != nil {
			t.Fatal(err)
		}
		if role != RoleUser {
			t.Errorf("role = %q, want user", role)
		}
	})

	t.Run("store errors surface", func(t *testing.T) {
		r := NewResolver(&fakeRoles{err: errors.New("connection refused")}, logger)

		if _, err := r.ResolveRole(ctx, "u1", "twitch+a"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestAuthorizeCommand(t *testing.T) {
	logger := slog.Default()
	ctx := context.Background()

	source := &fakeRoles{
		communityRoles: map[string]string{communityKey(GlobalCommunityID, "mod"): RoleModerator},
	}
	r := NewResolver(source, logger)

	tests := []struct {
		name    string
		userID  string
		command string
		want    bool
	}{
		{"moderator can timeout", "mod", "timeout", true},
		{"moderator cannot ban", "mod", "ban", false},
		{"plain user can run basic command", "someone", "help", true},
		{"plain user cannot warn", "someone", "warn", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.AuthorizeCommand(ctx, tt.userID, "twitch+a", tt.command)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("AuthorizeCommand(%q, %q) = %v, want %v", tt.userID, tt.command, got, tt.want)
			}
		})
	}
}
