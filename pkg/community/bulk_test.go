package community

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeRoleWriter records role writes by scope.
type fakeRoleWriter struct {
	mu             sync.Mutex
	entityRoles    map[string]string // "entityID/userID" -> role
	communityRoles map[string]string // "communityID/userID" -> role
}

func newFakeRoleWriter() *fakeRoleWriter {
	return &fakeRoleWriter{
		entityRoles:    map[string]string{},
		communityRoles: map[string]string{},
	}
}

func (f *fakeRoleWriter) SetEntityRole(_ context.Context, entityID, userID, role, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityRoles[entityID+"/"+userID] = role
	return nil
}

func (f *fakeRoleWriter) SetCommunityRole(_ context.Context, communityID int64, userID, role, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.communityRoles[communityKey(communityID, userID)] = role
	return nil
}

func TestBulk_CheckPermissions(t *testing.T) {
	resolver := NewResolver(&fakeRoles{
		entityRoles: map[string]string{"twitch+a/mod": RoleModerator},
	}, slog.Default())
	b := NewBulk(newFakeRoleWriter(), resolver, 4)

	results, err := b.CheckPermissions(context.Background(), []PermissionCheck{
		{UserID: "mod", EntityID: "twitch+a", Permission: "users.timeout"},
		{UserID: "mod", EntityID: "twitch+a", Permission: "users.ban"},
		{UserID: "pleb", EntityID: "twitch+a", Permission: "chat.send"},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{
		"mod:twitch+a:users.timeout": true,
		"mod:twitch+a:users.ban":     false,
		"pleb:twitch+a:chat.send":    true,
	}
	for key, ok := range want {
		if results[key] != ok {
			t.Errorf("%s = %v, want %v", key, results[key], ok)
		}
	}
	if len(results) != len(want) {
		t.Errorf("results = %d, want %d", len(results), len(want))
	}
}

func TestBulk_AssignRoles(t *testing.T) {
	writer := newFakeRoleWriter()
	b := NewBulk(writer, NewResolver(&fakeRoles{}, slog.Default()), 4)

	err := b.AssignRoles(context.Background(), []RoleRequest{
		{UserID: "u1", EntityID: "twitch+a", Role: RoleModerator, AssignedBy: "owner"},
		{UserID: "u2", Community: 5, Role: RoleOwner},
	})
	if err != nil {
		t.Fatal(err)
	}

	if writer.entityRoles["twitch+a/u1"] != RoleModerator {
		t.Errorf("entity roles = %v", writer.entityRoles)
	}
	if writer.communityRoles[communityKey(5, "u2")] != RoleOwner {
		t.Errorf("community roles = %v", writer.communityRoles)
	}
}

func TestBulk_GetRoles(t *testing.T) {
	resolver := NewResolver(&fakeRoles{
		entityRoles:    map[string]string{"twitch+a/mod": RoleModerator},
		communityRoles: map[string]string{communityKey(GlobalCommunityID, "member"): RoleUser},
	}, slog.Default())
	b := NewBulk(newFakeRoleWriter(), resolver, 4)

	roles, err := b.GetRoles(context.Background(), []string{"mod", "member", "stranger"}, "twitch+a")
	if err != nil {
		t.Fatal(err)
	}

	if roles["mod"] != RoleModerator {
		t.Errorf("mod = %q", roles["mod"])
	}
	if roles["member"] != RoleUser {
		t.Errorf("member = %q", roles["member"])
	}
	if roles["stranger"] != RoleUser {
		t.Errorf("stranger = %q, unseen users default to user", roles["stranger"])
	}
}

func newBulkServer(t *testing.T) (*httptest.Server, *fakeRoleWriter) {
	t.Helper()
	writer := newFakeRoleWriter()
	resolver := NewResolver(&fakeRoles{
		entityRoles: map[string]string{"twitch+a/mod": RoleModerator},
	}, slog.Default())
	h := NewHandler(NewBulk(writer, resolver, 4), slog.Default())

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, writer
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestBulkHandler(t *testing.T) {
	t.Run("check permissions", func(t *testing.T) {
		srv, _ := newBulkServer(t)
		resp := postJSON(t, srv, "/check-permissions",
			`{"checks":[{"user_id":"mod","entity_id":"twitch+a","permission":"users.timeout"}]}`)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("assign roles", func(t *testing.T) {
		srv, writer := newBulkServer(t)
		resp := postJSON(t, srv, "/assign-roles",
			`{"assignments":[{"user_id":"u1","entity_id":"twitch+a","role":"moderator"}]}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if writer.entityRoles["twitch+a/u1"] != RoleModerator {
			t.Errorf("entity roles = %v", writer.entityRoles)
		}
	})

	t.Run("assignment without scope", func(t *testing.T) {
		srv, _ := newBulkServer(t)
		resp := postJSON(t, srv, "/assign-roles",
			`{"assignments":[{"user_id":"u1","role":"moderator"}]}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("unknown role rejected", func(t *testing.T) {
		srv, _ := newBulkServer(t)
		resp := postJSON(t, srv, "/assign-roles",
			`{"assignments":[{"user_id":"u1","entity_id":"twitch+a","role":"emperor"}]}`)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", resp.StatusCode)
		}
	})

	t.Run("get roles", func(t *testing.T) {
		srv, _ := newBulkServer(t)
		resp := postJSON(t, srv, "/get-roles",
			`{"user_ids":["mod","other"],"entity_id":"twitch+a"}`)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})
}
