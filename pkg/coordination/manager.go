package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/waddlebot/router/internal/telemetry"
)

// ClaimSource abstracts the store operations the manager needs, so the claim
// loop can be tested without a database.
type ClaimSource interface {
	CleanupExpiredClaims(ctx context.Context) (int, error)
	Candidates(ctx context.Context, platform string, limit int) ([]Entity, error)
	ClaimOne(ctx context.Context, entityID, containerID string) (bool, error)
	Release(ctx context.Context, containerID string, entityIDs []string) (int, error)
	ReleaseOffline(ctx context.Context, containerID, platform string) (int, error)
	ReportError(ctx context.Context, containerID, entityID, message string) (int, error)
	Populate(ctx context.Context, platform string) (int, error)
}

// Notifier receives ops notifications from the manager.
type Notifier interface {
	EntityErrored(ctx context.Context, platform, entityID, containerID, message string, errorCount int)
	FleetPopulated(ctx context.Context, platform string, created int)
}

// Manager drives the claim lifecycle on top of the store's compare-and-set
// primitives.
type Manager struct {
	store    ClaimSource
	notifier Notifier
	logger   *slog.Logger
}

// NewManager creates a coordination Manager.
func NewManager(store ClaimSource, notifier Notifier, logger *slog.Logger) *Manager {
	return &Manager{store: store, notifier: notifier, logger: logger}
}

// Claim acquires up to maxClaims entities for the container: clean up expired
// claims, list candidates (twice the ask, since races lose some), then
// compare-and-set each until the ask is met. Lost races are skipped silently.
func (m *Manager) Claim(ctx context.Context, containerID, platform string, maxClaims int) ([]Entity, error) {
	if maxClaims <= 0 {
		return nil, fmt.Errorf("max claims must be positive")
	}

	if released, err := m.store.CleanupExpiredClaims(ctx); err != nil {
		m.logger.Warn("cleaning up expired claims", "error", err)
	} else if released > 0 {
		m.logger.Info("released expired claims", "count", released)
	}

	candidates, err := m.store.Candidates(ctx, platform, maxClaims*2)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}

	claimed := make([]Entity, 0, maxClaims)
	for _, cand := range candidates {
		if len(claimed) >= maxClaims {
			break
		}
		won, err := m.store.ClaimOne(ctx, cand.EntityID, containerID)
		if err != nil {
			return claimed, fmt.Errorf("claiming %s: %w", cand.EntityID, err)
		}
		if !won {
			telemetry.ClaimConflictsTotal.Inc()
			continue
		}
		telemetry.ClaimsTotal.WithLabelValues(platform).Inc()
		cand.Status = StatusClaimed
		cand.ClaimedBy = &containerID
		now := time.Now().UTC()
		cand.ClaimedAt = &now
		claimed = append(claimed, cand)
	}

	m.logger.Info("claimed entities",
		"container_id", containerID, "platform", platform,
		"requested", maxClaims, "claimed", len(claimed))
	return claimed, nil
}

// ReleaseOfflineAndReclaim swaps offline claims for fresh candidates: every
// offline row the container holds is released and the same number claimed
// back, preferring live channels.
func (m *Manager) ReleaseOfflineAndReclaim(ctx context.Context, containerID, platform string) ([]Entity, int, error) {
	released, err := m.store.ReleaseOffline(ctx, containerID, platform)
	if err != nil {
		return nil, 0, fmt.Errorf("releasing offline claims: %w", err)
	}
	if released == 0 {
		return []Entity{}, 0, nil
	}

	claimed, err := m.Claim(ctx, containerID, platform, released)
	if err != nil {
		return nil, released, err
	}
	return claimed, released, nil
}

// ReportError records a collector error; when the row crosses the error
// threshold the ops notifier is told.
func (m *Manager) ReportError(ctx context.Context, containerID, platform, entityID, message string) (int, error) {
	count, err := m.store.ReportError(ctx, containerID, entityID, message)
	if err != nil {
		return 0, err
	}
	if count >= errorThreshold && m.notifier != nil {
		m.notifier.EntityErrored(ctx, platform, entityID, containerID, message, count)
	}
	return count, nil
}

// Populate seeds coordination rows from the servers table and notifies ops
// when new rows were created.
func (m *Manager) Populate(ctx context.Context, platform string) (int, error) {
	created, err := m.store.Populate(ctx, platform)
	if err != nil {
		return 0, err
	}
	if created > 0 && m.notifier != nil {
		m.notifier.FleetPopulated(ctx, platform, created)
	}
	return created, nil
}

// StartSweeper launches a background goroutine that periodically releases
// expired claims so they never sit dead between claim requests.
func (m *Manager) StartSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.store.CleanupExpiredClaims(ctx); err != nil {
					m.logger.Warn("sweeping expired claims", "error", err)
				}
			}
		}
	}()
}
