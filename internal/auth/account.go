package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Account is a service account row from the service_accounts table.
type Account struct {
	ID          uuid.UUID
	Name        string
	AccountType string
	Platform    string
	KeyHash     string
	KeyPrefix   string
	Permissions []string
	RateLimit   int
	ExpiresAt   pgtype.Timestamptz
	Active      bool
	LastUsed    pgtype.Timestamptz
	CreatedAt   time.Time
}

// Expired reports whether the account's key has passed its expiry time.
func (a *Account) Expired(now time.Time) bool {
	return a.ExpiresAt.Valid && a.ExpiresAt.Time.Before(now)
}

// CreateRequest is the JSON body for POST /router/accounts.
type CreateRequest struct {
	Name        string     `json:"name" validate:"required,min=3,max=64"`
	AccountType string     `json:"account_type" validate:"required,oneof=collector interaction webhook admin"`
	Platform    string     `json:"platform" validate:"omitempty,max=32"`
	Permissions []string   `json:"permissions" validate:"required,min=1"`
	RateLimit   int        `json:"rate_limit" validate:"gte=0"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// Response is the JSON response for a single service account (without the raw key).
type Response struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	AccountType string     `json:"account_type"`
	Platform    string     `json:"platform,omitempty"`
	KeyPrefix   string     `json:"key_prefix"`
	Permissions []string   `json:"permissions"`
	RateLimit   int        `json:"rate_limit"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Active      bool       `json:"active"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateResponse includes the raw key (only shown once at creation).
type CreateResponse struct {
	Response
	RawKey string `json:"raw_key"`
}

// ToResponse converts an Account to a Response DTO.
func (a *Account) ToResponse() Response {
	resp := Response{
		ID:          a.ID,
		Name:        a.Name,
		AccountType: a.AccountType,
		Platform:    a.Platform,
		KeyPrefix:   a.KeyPrefix,
		Permissions: ensureSlice(a.Permissions),
		RateLimit:   a.RateLimit,
		Active:      a.Active,
		CreatedAt:   a.CreatedAt,
	}
	if a.ExpiresAt.Valid {
		t := a.ExpiresAt.Time
		resp.ExpiresAt = &t
	}
	if a.LastUsed.Valid {
		t := a.LastUsed.Time
		resp.LastUsed = &t
	}
	return resp
}

// MatchEndpoint reports whether any permission glob matches the endpoint.
// Endpoints are slash-separated without a leading slash ("router/events").
// Globs support exact match, a bare "*", and trailing-star prefixes such as
// "router/*" or "router/coordination/*".
func MatchEndpoint(permissions []string, endpoint string) bool {
	for _, p := range permissions {
		if p == "*" || p == endpoint {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(endpoint, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

// ensureSlice returns s if non-nil, otherwise an empty slice.
func ensureSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
