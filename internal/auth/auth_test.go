package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func TestMatchEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		permissions []string
		endpoint    string
		want        bool
	}{
		{"exact match", []string{"router/events"}, "router/events", true},
		{"exact miss", []string{"router/events"}, "router/commands", false},
		{"bare star matches everything", []string{"*"}, "router/coordination/claim", true},
		{"trailing star prefix", []string{"router/*"}, "router/events/batch", true},
		{"nested trailing star", []string{"router/coordination/*"}, "router/coordination/claim", true},
		{"trailing star wrong prefix", []string{"router/coordination/*"}, "router/events", false},
		{"empty permissions", nil, "router/events", false},
		{"second glob matches", []string{"router/responses", "router/events"}, "router/events", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchEndpoint(tt.permissions, tt.endpoint); got != tt.want {
				t.Errorf("MatchEndpoint(%v, %q) = %v, want %v", tt.permissions, tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	raw, hash, prefix := GenerateAPIKey()

	if !strings.HasPrefix(raw, "wb_") {
		t.Errorf("raw key = %q, want wb_ prefix", raw)
	}
	if hash != HashAPIKey(raw) {
		t.Error("hash does not match HashAPIKey(raw)")
	}
	if prefix != raw[:10] {
		t.Errorf("prefix = %q, want first ten characters of the raw key", prefix)
	}

	raw2, _, _ := GenerateAPIKey()
	if raw == raw2 {
		t.Error("consecutive keys should differ")
	}
}

func TestAccount_Expired(t *testing.T) {
	now := time.Now()

	never := Account{}
	if never.Expired(now) {
		t.Error("account without expiry never expires")
	}

	past := Account{ExpiresAt: pgtype.Timestamptz{Time: now.Add(-time.Minute), Valid: true}}
	if !past.Expired(now) {
		t.Error("past expiry should be expired")
	}

	future := Account{ExpiresAt: pgtype.Timestamptz{Time: now.Add(time.Minute), Valid: true}}
	if future.Expired(now) {
		t.Error("future expiry should not be expired")
	}
}

type fakeAccounts struct {
	accounts map[string]Account // key hash -> account
	usage    int
}

func (f *fakeAccounts) GetByKeyHash(_ context.Context, keyHash string) (Account, error) {
	if a, ok := f.accounts[keyHash]; ok {
		return a, nil
	}
	return Account{}, pgx.ErrNoRows
}

func (f *fakeAccounts) CountUsageSince(_ context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	return f.usage, nil
}

func newAuthServer(accounts *fakeAccounts) *httptest.Server {
	a := NewAuthenticator(accounts, nil, slog.Default(), time.Hour)
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		if id == nil {
			http.Error(w, "no identity", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return httptest.NewServer(handler)
}

func TestAuthenticator_Middleware(t *testing.T) {
	rawKey, keyHash, keyPrefix := GenerateAPIKey()
	accounts := &fakeAccounts{accounts: map[string]Account{
		keyHash: {
			ID:          uuid.New(),
			Name:        "collector",
			AccountType: TypeCollector,
			KeyPrefix:   keyPrefix,
			Active:      true,
		},
	}}
	srv := newAuthServer(accounts)
	defer srv.Close()

	do := func(t *testing.T, set func(*http.Request)) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		set(req)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	t.Run("X-API-Key header", func(t *testing.T) {
		resp := do(t, func(r *http.Request) { r.Header.Set("X-API-Key", rawKey) })
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("bearer token", func(t *testing.T) {
		resp := do(t, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+rawKey) })
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		resp := do(t, func(*http.Request) {})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		resp := do(t, func(r *http.Request) { r.Header.Set("X-API-Key", "wb_deadbeef") })
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}

func TestAuthenticator_RejectsInactiveAndExpired(t *testing.T) {
	rawInactive, hashInactive, _ := GenerateAPIKey()
	rawExpired, hashExpired, _ := GenerateAPIKey()
	accounts := &fakeAccounts{accounts: map[string]Account{
		hashInactive: {ID: uuid.New(), Name: "old", AccountType: TypeCollector, Active: false},
		hashExpired: {
			ID: uuid.New(), Name: "stale", AccountType: TypeCollector, Active: true,
			ExpiresAt: pgtype.Timestamptz{Time: time.Now().Add(-time.Hour), Valid: true},
		},
	}}
	srv := newAuthServer(accounts)
	defer srv.Close()

	for _, key := range []string{rawInactive, rawExpired} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		req.Header.Set("X-API-Key", key)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	}
}

func TestAuthenticator_AccountRateLimit(t *testing.T) {
	rawKey, keyHash, _ := GenerateAPIKey()
	accounts := &fakeAccounts{
		accounts: map[string]Account{
			keyHash: {ID: uuid.New(), Name: "busy", AccountType: TypeCollector, Active: true, RateLimit: 100},
		},
		usage: 100,
	}
	srv := newAuthServer(accounts)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("X-API-Key", rawKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestRequireAccountType(t *testing.T) {
	handler := RequireAccountType(TypeCollector)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(id *Identity) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if id != nil {
			req = req.WithContext(NewContext(req.Context(), id))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := serve(&Identity{AccountType: TypeCollector}); got != http.StatusOK {
		t.Errorf("collector = %d, want 200", got)
	}
	if got := serve(&Identity{AccountType: TypeAdmin}); got != http.StatusOK {
		t.Errorf("admin = %d, want 200 (admin always passes)", got)
	}
	if got := serve(&Identity{AccountType: TypeWebhook}); got != http.StatusForbidden {
		t.Errorf("webhook = %d, want 403", got)
	}
	if got := serve(nil); got != http.StatusUnauthorized {
		t.Errorf("anonymous = %d, want 401", got)
	}
}

func TestRequirePermission(t *testing.T) {
	handler := RequirePermission(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(permissions []string, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = req.WithContext(NewContext(req.Context(), &Identity{Permissions: permissions}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := serve([]string{"router/*"}, "/router/events"); got != http.StatusOK {
		t.Errorf("covered = %d, want 200", got)
	}
	if got := serve([]string{"router/responses"}, "/router/events"); got != http.StatusForbidden {
		t.Errorf("uncovered = %d, want 403", got)
	}
}
