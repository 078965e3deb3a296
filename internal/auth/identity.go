package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Service account types. Collectors ingest events, interaction and webhook
// accounts submit module replies, admin accounts manage everything.
const (
	TypeCollector   = "collector"
	TypeInteraction = "interaction"
	TypeWebhook     = "webhook"
	TypeAdmin       = "admin"
)

// ValidAccountTypes lists all known service account types.
var ValidAccountTypes = []string{TypeCollector, TypeInteraction, TypeWebhook, TypeAdmin}

// Identity represents the authenticated service account for the current request.
type Identity struct {
	AccountID   uuid.UUID
	Name        string
	AccountType string
	Platform    string
	KeyPrefix   string
	Permissions []string
}

type ctxKey string

const identityKey ctxKey = "auth_identity"

// NewContext stores the identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from the context.
// Returns nil if no identity is set.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// IsValidAccountType reports whether t is a recognised service account type.
func IsValidAccountType(t string) bool {
	for _, v := range ValidAccountTypes {
		if v == t {
			return true
		}
	}
	return false
}

// HashAPIKey returns the SHA-256 hex digest of a raw API key. Only the hash
// is stored; lookups hash the presented key and compare digests.
func HashAPIKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// GenerateAPIKey creates a random API key with prefix "wb_", its SHA-256
// hash, and a short prefix for display.
func GenerateAPIKey() (raw, hash, prefix string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = fmt.Sprintf("wb_%x", b)
	hash = HashAPIKey(raw)
	prefix = raw[:10]
	return
}
