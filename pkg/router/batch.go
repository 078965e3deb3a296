package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// MaxBatchSize caps the events accepted in one batch request.
const MaxBatchSize = 100

// BatchRequest is the JSON body for POST /router/events/batch.
type BatchRequest struct {
	Events []InboundEvent `json:"events" validate:"required,min=1,max=100"`
}

// BatchItemResult pairs one event's outcome with its index in the request.
type BatchItemResult struct {
	Index int `json:"index"`
	EventResult
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	Total     int               `json:"total"`
	Processed int               `json:"processed"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Results   []BatchItemResult `json:"results"`
}

// BatchConfig tunes batch fan-out.
type BatchConfig struct {
	MaxWorkers     int           // default 10
	RequestTimeout time.Duration // per-event budget, default 30s
}

func (c *BatchConfig) applyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 10
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// ProcessBatch runs up to MaxBatchSize events concurrently. Invalid events are
// skipped silently, the whole batch's users are onboarded into the GLOBAL
// community with one set-based write, and the batch shares a deadline of the
// per-event timeout plus ten seconds of headroom.
func (p *Processor) ProcessBatch(ctx context.Context, events []InboundEvent, cfg BatchConfig) BatchResult {
	cfg.applyDefaults()
	if len(events) > MaxBatchSize {
		events = events[:MaxBatchSize]
	}

	result := BatchResult{Total: len(events)}

	type indexed struct {
		idx int
		ev  InboundEvent
	}
	valid := make([]indexed, 0, len(events))
	userSet := make(map[string]struct{})
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			result.Skipped++
			continue
		}
		valid = append(valid, indexed{idx: i, ev: ev})
		userSet[ev.UserID] = struct{}{}
	}
	if len(valid) == 0 {
		result.Results = []BatchItemResult{}
		return result
	}

	userIDs := make([]string, 0, len(userSet))
	for id := range userSet {
		userIDs = append(userIDs, id)
	}
	if err := p.members.EnsureUsersInGlobalBulk(ctx, userIDs); err != nil {
		p.logger.Warn("bulk onboarding batch users", "error", err, "users", len(userIDs))
	}

	batchCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout+10*time.Second)
	defer cancel()

	var mu sync.Mutex
	results := make([]BatchItemResult, 0, len(valid))

	g, gctx := errgroup.WithContext(batchCtx)
	g.SetLimit(cfg.MaxWorkers)
	for _, item := range valid {
		item := item
		g.Go(func() error {
			res := p.process(gctx, item.ev, true)
			mu.Lock()
			results = append(results, BatchItemResult{Index: item.idx, EventResult: res})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Stable order for callers correlating by index.
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	for _, r := range results {
		if r.Success {
			result.Processed++
		} else {
			result.Failed++
		}
	}
	result.Results = results
	return result
}
