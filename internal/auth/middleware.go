package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountSource abstracts the service account lookups the middleware needs,
// so routes can be tested without a database.
type AccountSource interface {
	GetByKeyHash(ctx context.Context, keyHash string) (Account, error)
	CountUsageSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error)
}

// Authenticator resolves service accounts from API keys and enforces the
// per-account hourly rate limit.
type Authenticator struct {
	accounts   AccountSource
	usage      *UsageWriter
	logger     *slog.Logger
	rateWindow time.Duration
}

// NewAuthenticator creates an Authenticator. usage may be nil, in which case
// calls are not recorded. rateWindow is the sliding interval the per-account
// limit counts over (one hour by default).
func NewAuthenticator(accounts AccountSource, usage *UsageWriter, logger *slog.Logger, rateWindow time.Duration) *Authenticator {
	if rateWindow <= 0 {
		rateWindow = time.Hour
	}
	return &Authenticator{
		accounts:   accounts,
		usage:      usage,
		logger:     logger,
		rateWindow: rateWindow,
	}
}

// Middleware authenticates the caller via API key and stores the resulting
// Identity in the request context.
//
// Key precedence:
//  1. X-API-Key: <raw-key>
//  2. Authorization: Bearer <raw-key>
//
// The presented key is hashed and looked up by digest; inactive and expired
// accounts are rejected. Accounts with rate_limit > 0 are rejected with 429
// once their usage row count within the window reaches the limit. Every
// authenticated call is recorded in the usage log.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := r.Header.Get("X-API-Key")
		if rawKey == "" {
			if ah := r.Header.Get("Authorization"); len(ah) > 7 && strings.EqualFold(ah[:7], "bearer ") {
				rawKey = strings.TrimSpace(ah[7:])
			}
		}
		if rawKey == "" {
			respondErr(w, http.StatusUnauthorized, "unauthorized", "missing API key")
			return
		}

		account, err := a.accounts.GetByKeyHash(r.Context(), HashAPIKey(rawKey))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				a.logger.Error("API key lookup failed", "error", err)
			}
			respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}
		if !account.Active {
			respondErr(w, http.StatusUnauthorized, "unauthorized", "service account is disabled")
			return
		}
		if account.Expired(time.Now()) {
			respondErr(w, http.StatusUnauthorized, "unauthorized", "API key has expired")
			return
		}

		if account.RateLimit > 0 {
			n, err := a.accounts.CountUsageSince(r.Context(), account.ID, time.Now().Add(-a.rateWindow))
			if err != nil {
				// Degraded counting must not lock accounts out.
				a.logger.Error("counting account usage", "error", err, "account", account.Name)
			} else if n >= account.RateLimit {
				respondErr(w, http.StatusTooManyRequests, "rate_limited", "hourly request limit exceeded")
				return
			}
		}

		identity := &Identity{
			AccountID:   account.ID,
			Name:        account.Name,
			AccountType: account.AccountType,
			Platform:    account.Platform,
			KeyPrefix:   account.KeyPrefix,
			Permissions: account.Permissions,
		}

		ctx := NewContext(r.Context(), identity)
		start := time.Now()
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r.WithContext(ctx))

		if a.usage != nil {
			reqSize := r.ContentLength
			if reqSize < 0 {
				reqSize = 0
			}
			a.usage.Log(UsageEntry{
				AccountID:    account.ID,
				Endpoint:     strings.TrimPrefix(r.URL.Path, "/"),
				Method:       r.Method,
				StatusCode:   sw.status,
				LatencyMS:    time.Since(start).Milliseconds(),
				RequestSize:  reqSize,
				ResponseSize: sw.bytes,
				RemoteAddr:   clientIP(r),
				UserAgent:    r.Header.Get("User-Agent"),
			})
		}
	})
}

// RequireAccountType returns middleware that rejects identities whose account
// type is not in the allowed set. Admin accounts always pass.
func RequireAccountType(allowed ...string) func(http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, t := range allowed {
		set[t] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if id.AccountType != TypeAdmin {
				if _, ok := set[id.AccountType]; !ok {
					respondErr(w, http.StatusForbidden, "forbidden", "account type not allowed for this endpoint")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission rejects requests whose account permission globs do not
// cover the requested endpoint path.
func RequirePermission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		if id == nil {
			respondErr(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		endpoint := strings.TrimPrefix(r.URL.Path, "/")
		if !MatchEndpoint(id.Permissions, endpoint) {
			respondErr(w, http.StatusForbidden, "forbidden", "permission denied for "+endpoint)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}

// statusRecorder wraps http.ResponseWriter to capture status and body size.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}
