package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UsageEntry represents a single API usage log row to be written.
type UsageEntry struct {
	AccountID    uuid.UUID
	Endpoint     string
	Method       string
	StatusCode   int
	LatencyMS    int64
	RequestSize  int64
	ResponseSize int
	RemoteAddr   string
	UserAgent    string
}

// UsageWriter is an async, buffered usage log writer. Entries are sent to an
// internal channel and flushed by a background goroutine. The usage rows feed
// the per-account hourly rate limit, so the flush interval bounds how stale
// that count can be.
type UsageWriter struct {
	store   *Store
	logger  *slog.Logger
	entries chan UsageEntry
	wg      sync.WaitGroup
}

const (
	usageBufferSize    = 256
	usageFlushInterval = 2 * time.Second
	usageFlushBatch    = 32
)

// NewUsageWriter creates a UsageWriter. Call Start to begin processing entries.
func NewUsageWriter(store *Store, logger *slog.Logger) *UsageWriter {
	return &UsageWriter{
		store:   store,
		logger:  logger,
		entries: make(chan UsageEntry, usageBufferSize),
	}
}

// Start begins the background goroutine that flushes usage entries to the database.
func (w *UsageWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *UsageWriter) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues a usage entry for async writing. It never blocks the caller;
// if the buffer is full the entry is dropped and a warning is logged.
func (w *UsageWriter) Log(entry UsageEntry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("usage log buffer full, dropping entry",
			"endpoint", entry.Endpoint, "account_id", entry.AccountID)
	}
}

// run is the background loop that drains the entries channel.
func (w *UsageWriter) run(ctx context.Context) {
	ticker := time.NewTicker(usageFlushInterval)
	defer ticker.Stop()

	batch := make([]UsageEntry, 0, usageFlushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				// Channel closed — flush remaining and exit.
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= usageFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// Drain any remaining entries.
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch of entries and touches last_used for the accounts seen.
func (w *UsageWriter) flush(entries []UsageEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	seen := make(map[uuid.UUID]struct{}, len(entries))
	for _, e := range entries {
		if err := w.store.InsertUsage(ctx, e); err != nil {
			w.logger.Error("writing usage log entry", "error", err,
				"endpoint", e.Endpoint, "account_id", e.AccountID)
			continue
		}
		seen[e.AccountID] = struct{}{}
	}

	ids := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	if err := w.store.TouchLastUsed(ctx, ids); err != nil {
		w.logger.Error("touching last_used", "error", err)
	}
}

// clientIP extracts the client IP address from the request,
// preferring X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
