package coordination

import (
	"context"
	"log/slog"
	"testing"
)

type fakeClaimSource struct {
	candidates      []Entity
	lost            map[string]bool // entity IDs whose claim race is lost
	claims          []string
	cleanups        int
	releasedOffline int
	errorCount      int
	populated       int
	populateErr     error
}

func (f *fakeClaimSource) CleanupExpiredClaims(_ context.Context) (int, error) {
	f.cleanups++
	return 0, nil
}

func (f *fakeClaimSource) Candidates(_ context.Context, _ string, limit int) ([]Entity, error) {
	if limit > len(f.candidates) {
		limit = len(f.candidates)
	}
	return f.candidates[:limit], nil
}

func (f *fakeClaimSource) ClaimOne(_ context.Context, entityID, _ string) (bool, error) {
	if f.lost[entityID] {
		return false, nil
	}
	f.claims = append(f.claims, entityID)
	return true, nil
}

func (f *fakeClaimSource) Release(_ context.Context, _ string, entityIDs []string) (int, error) {
	return len(entityIDs), nil
}

func (f *fakeClaimSource) ReleaseOffline(_ context.Context, _, _ string) (int, error) {
	return f.releasedOffline, nil
}

func (f *fakeClaimSource) ReportError(_ context.Context, _, _, _ string) (int, error) {
	f.errorCount++
	return f.errorCount, nil
}

func (f *fakeClaimSource) Populate(_ context.Context, _ string) (int, error) {
	return f.populated, f.populateErr
}

type fakeNotifier struct {
	erroredEntities []string
	populatedCounts []int
}

func (f *fakeNotifier) EntityErrored(_ context.Context, _, entityID, _, _ string, _ int) {
	f.erroredEntities = append(f.erroredEntities, entityID)
}

func (f *fakeNotifier) FleetPopulated(_ context.Context, _ string, created int) {
	f.populatedCounts = append(f.populatedCounts, created)
}

func entities(ids ...string) []Entity {
	out := make([]Entity, len(ids))
	for i, id := range ids {
		out[i] = Entity{EntityID: id, Platform: "twitch", Status: StatusAvailable}
	}
	return out
}

func TestManager_Claim(t *testing.T) {
	src := &fakeClaimSource{candidates: entities("a", "b", "c", "d")}
	m := NewManager(src, nil, slog.Default())

	claimed, err := m.Claim(context.Background(), "cont-1", "twitch", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed = %d, want 2", len(claimed))
	}
	if src.cleanups != 1 {
		t.Errorf("cleanups = %d, want 1 before claiming", src.cleanups)
	}
	for _, e := range claimed {
		if e.Status != StatusClaimed {
			t.Errorf("status = %q, want claimed", e.Status)
		}
		if e.ClaimedBy == nil || *e.ClaimedBy != "cont-1" {
			t.Errorf("claimed_by = %v", e.ClaimedBy)
		}
		if e.ClaimedAt == nil {
			t.Error("claimed_at should be stamped")
		}
	}
}

func TestManager_ClaimSkipsLostRaces(t *testing.T) {
	src := &fakeClaimSource{
		candidates: entities("a", "b", "c", "d"),
		lost:       map[string]bool{"a": true, "c": true},
	}
	m := NewManager(src, nil, slog.Default())

	claimed, err := m.Claim(context.Background(), "cont-1", "twitch", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed = %d, want 2 despite lost races", len(claimed))
	}
	if claimed[0].EntityID != "b" || claimed[1].EntityID != "d" {
		t.Errorf("claimed = %q, %q", claimed[0].EntityID, claimed[1].EntityID)
	}
}

func TestManager_ClaimStopsAtAsk(t *testing.T) {
	src := &fakeClaimSource{candidates: entities("a", "b", "c", "d", "e", "f")}
	m := NewManager(src, nil, slog.Default())

	claimed, err := m.Claim(context.Background(), "cont-1", "twitch", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 3 || len(src.claims) != 3 {
		t.Errorf("claimed = %d, store claims = %d, want 3", len(claimed), len(src.claims))
	}
}

func TestManager_ClaimRejectsBadAsk(t *testing.T) {
	m := NewManager(&fakeClaimSource{}, nil, slog.Default())
	if _, err := m.Claim(context.Background(), "cont-1", "twitch", 0); err == nil {
		t.Error("zero ask should be rejected")
	}
}

func TestManager_ReleaseOfflineAndReclaim(t *testing.T) {
	t.Run("nothing offline", func(t *testing.T) {
		src := &fakeClaimSource{candidates: entities("a")}
		m := NewManager(src, nil, slog.Default())

		claimed, released, err := m.ReleaseOfflineAndReclaim(context.Background(), "cont-1", "twitch")
		if err != nil {
			t.Fatal(err)
		}
		if released != 0 || len(claimed) != 0 {
			t.Errorf("released = %d, claimed = %d, want 0/0", released, len(claimed))
		}
		if len(src.claims) != 0 {
			t.Error("no reclaim should run when nothing was released")
		}
	})

	t.Run("reclaims the released count", func(t *testing.T) {
		src := &fakeClaimSource{
			candidates:      entities("a", "b", "c"),
			releasedOffline: 2,
		}
		m := NewManager(src, nil, slog.Default())

		claimed, released, err := m.ReleaseOfflineAndReclaim(context.Background(), "cont-1", "twitch")
		if err != nil {
			t.Fatal(err)
		}
		if released != 2 || len(claimed) != 2 {
			t.Errorf("released = %d, claimed = %d, want 2/2", released, len(claimed))
		}
	})
}

func TestManager_ReportError(t *testing.T) {
	src := &fakeClaimSource{}
	notifier := &fakeNotifier{}
	m := NewManager(src, notifier, slog.Default())

	ctx := context.Background()
	for i := 1; i <= errorThreshold; i++ {
		count, err := m.ReportError(ctx, "cont-1", "twitch", "twitch+chan", "stream fetch failed")
		if err != nil {
			t.Fatal(err)
		}
		if count != i {
			t.Errorf("count = %d, want %d", count, i)
		}
	}

	// Only the report crossing the threshold pages ops.
	if len(notifier.erroredEntities) != 1 || notifier.erroredEntities[0] != "twitch+chan" {
		t.Errorf("notified = %v, want one notification at threshold", notifier.erroredEntities)
	}
}

func TestManager_Populate(t *testing.T) {
	t.Run("new rows notify", func(t *testing.T) {
		notifier := &fakeNotifier{}
		m := NewManager(&fakeClaimSource{populated: 5}, notifier, slog.Default())

		created, err := m.Populate(context.Background(), "twitch")
		if err != nil {
			t.Fatal(err)
		}
		if created != 5 {
			t.Errorf("created = %d, want 5", created)
		}
		if len(notifier.populatedCounts) != 1 || notifier.populatedCounts[0] != 5 {
			t.Errorf("notifications = %v", notifier.populatedCounts)
		}
	})

	t.Run("no new rows stays quiet", func(t *testing.T) {
		notifier := &fakeNotifier{}
		m := NewManager(&fakeClaimSource{}, notifier, slog.Default())

		if _, err := m.Populate(context.Background(), "twitch"); err != nil {
			t.Fatal(err)
		}
		if len(notifier.populatedCounts) != 0 {
			t.Errorf("notifications = %v, want none", notifier.populatedCounts)
		}
	})
}
