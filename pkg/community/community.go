// Package community implements communities, memberships, and the layered RBAC
// used to authorize commands: entity role over community role over the GLOBAL
// community role every user holds.
package community

import (
	"time"
)

// GlobalCommunityID is the reserved ID of the GLOBAL community. It is created
// by migration, immutable, and every user is auto-joined on first event.
const GlobalCommunityID int64 = 1

// Role tiers, ordered user < moderator < owner.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleOwner     = "owner"
)

// RoleLevel maps roles to their ordering for comparisons.
var RoleLevel = map[string]int{
	RoleUser:      1,
	RoleModerator: 2,
	RoleOwner:     3,
}

// rolePermissions enumerates the permission bundle each role adds on top of
// the previous tier.
var rolePermissions = map[string][]string{
	RoleUser: {
		"chat.send",
		"commands.basic",
		"reputation.view",
	},
	RoleModerator: {
		"commands.moderate",
		"users.warn",
		"users.timeout",
		"users.kick",
		"community.add_user",
		"reputation.manage",
	},
	RoleOwner: {
		"commands.admin",
		"users.ban",
		"community.remove_user",
		"community.add_entity",
		"community.manage_roles",
		"community.manage_settings",
		"community.install_modules",
		"community.delete",
	},
}

// Permissions returns the full permission bundle for a role, including all
// permissions of lower tiers. Unknown roles get the user bundle.
func Permissions(role string) []string {
	level, ok := RoleLevel[role]
	if !ok {
		level = RoleLevel[RoleUser]
	}

	var perms []string
	for _, tier := range []string{RoleUser, RoleModerator, RoleOwner} {
		if RoleLevel[tier] > level {
			break
		}
		perms = append(perms, rolePermissions[tier]...)
	}
	return perms
}

// HasPermission reports whether the role's bundle contains the permission.
func HasPermission(role, permission string) bool {
	for _, p := range Permissions(role) {
		if p == permission {
			return true
		}
	}
	return false
}

// commandPermissions maps moderation command names to the permission they
// require. Unknown commands fall back to commands.basic.
var commandPermissions = map[string]string{
	"ban":     "users.ban",
	"kick":    "users.kick",
	"timeout": "users.timeout",
	"warn":    "users.warn",
}

// PermissionForCommand returns the permission a command name requires.
func PermissionForCommand(name string) string {
	if p, ok := commandPermissions[name]; ok {
		return p
	}
	return "commands.basic"
}

// Community is a row from the communities table.
type Community struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Owners    []string  `json:"owners"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership is a row from the community_memberships table.
type Membership struct {
	CommunityID int64     `json:"community_id"`
	UserID      string    `json:"user_id"`
	InvitedBy   string    `json:"invited_by,omitempty"`
	Active      bool      `json:"active"`
	JoinedAt    time.Time `json:"joined_at"`
}

// RoleAssignment is a community- or entity-scoped role row.
type RoleAssignment struct {
	Scope      string    `json:"scope"` // community id or entity id
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}
