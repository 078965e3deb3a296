package community

import "testing"

func TestPermissions_Cumulative(t *testing.T) {
	user := Permissions(RoleUser)
	mod := Permissions(RoleModerator)
	owner := Permissions(RoleOwner)

	if len(user) >= len(mod) || len(mod) >= len(owner) {
		t.Fatalf("bundles should grow with tier: user=%d mod=%d owner=%d",
			len(user), len(mod), len(owner))
	}

	// Every lower-tier permission carries up.
	ownerSet := make(map[string]struct{}, len(owner))
	for _, p := range owner {
		ownerSet[p] = struct{}{}
	}
	for _, p := range mod {
		if _, ok := ownerSet[p]; !ok {
			t.Errorf("owner bundle missing moderator permission %q", p)
		}
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role string
		perm string
		want bool
	}{
		{RoleUser, "chat.send", true},
		{RoleUser, "users.timeout", false},
		{RoleModerator, "users.timeout", true},
		{RoleModerator, "users.ban", false},
		{RoleOwner, "users.ban", true},
		{RoleOwner, "chat.send", true},
		{"unknown", "chat.send", true},
		{"unknown", "users.warn", false},
	}

	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestPermissionForCommand(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"ban", "users.ban"},
		{"kick", "users.kick"},
		{"timeout", "users.timeout"},
		{"warn", "users.warn"},
		{"help", "commands.basic"},
		{"shoutout", "commands.basic"},
	}

	for _, tt := range tests {
		if got := PermissionForCommand(tt.command); got != tt.want {
			t.Errorf("PermissionForCommand(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}
