package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/observability"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

const seenKeyTTL = 24 * time.Hour

// IngestOptions bounds one drain pass and the stored item count.
type IngestOptions struct {
	MaxBatches int
	HardCap    int
	PruneFloor int
	Tick       time.Duration
}

// Ingester converts scan batches into persisted records and notifications,
// exactly once per item.
type Ingester struct {
	store  domain.Store
	in     <-chan domain.ScanBatch
	notify chan<- domain.Notification
	// seen is an optional hot cache in front of the store's existence check.
	// The unique constraint on item id remains the source of truth.
	seen  *redis.Client
	clock domain.Clock
	opts  IngestOptions
}

// NewIngester constructs the pipeline consumer. seen may be nil.
func NewIngester(store domain.Store, in <-chan domain.ScanBatch, notify chan<- domain.Notification, seen *redis.Client, clock domain.Clock, opts IngestOptions) *Ingester {
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = 100
	}
	if opts.HardCap <= 0 {
		opts.HardCap = 50000
	}
	if opts.PruneFloor <= 0 {
		opts.PruneFloor = 30000
	}
	if opts.Tick <= 0 {
		opts.Tick = 100 * time.Millisecond
	}
	return &Ingester{store: store, in: in, notify: notify, seen: seen, clock: clock, opts: opts}
}

// Run drains the items channel on a fast tick until the context is canceled.
func (ig *Ingester) Run(ctx context.Context) {
	ticker := time.NewTicker(ig.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ig.Drain(ctx)
		}
	}
}

// Drain processes up to MaxBatches pending batches. The query list is cached
// once per invocation so thread lookups stay cheap under many workers.
func (ig *Ingester) Drain(ctx context.Context) {
	var threadByQuery map[int64]*int64
	processed := 0

	for processed < ig.opts.MaxBatches {
		var batch domain.ScanBatch
		select {
		case batch = <-ig.in:
		default:
			return
		}
		processed++

		if threadByQuery == nil {
			threadByQuery = ig.loadThreads(ctx)
		}

		// Reverse order so the oldest listing notifies first.
		for i := len(batch.Items) - 1; i >= 0; i-- {
			ig.processItem(ctx, batch.Items[i], batch.QueryID, threadByQuery[batch.QueryID])
		}
	}
}

func (ig *Ingester) loadThreads(ctx context.Context) map[int64]*int64 {
	queries, err := ig.store.Queries().List(ctx)
	if err != nil {
		slog.Warn("query list unavailable during ingest", slog.Any("error", err))
		return map[int64]*int64{}
	}
	out := make(map[int64]*int64, len(queries))
	for _, q := range queries {
		out[q.ID] = q.ThreadID
	}
	return out
}

func (ig *Ingester) processItem(ctx context.Context, it domain.Item, queryID int64, threadID *int64) {
	if ig.alreadySeen(ctx, it.ID) {
		return
	}
	exists, err := ig.store.Items().Exists(ctx, it.ID)
	if err != nil {
		slog.Error("existence check failed", slog.String("item_id", it.ID), slog.Any("error", err))
		return
	}
	if exists {
		ig.markSeen(ctx, it.ID)
		return
	}

	ig.enforceCap(ctx)

	it.QueryID = queryID
	it.FoundTS = ig.clock.Now().Unix()
	if err := ig.store.Items().Insert(ctx, it); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another worker scanned the same listing in the same window.
			ig.markSeen(ctx, it.ID)
			return
		}
		slog.Error("item persistence failed, skipping notification",
			slog.String("item_id", it.ID), slog.Any("error", err))
		return
	}
	observability.ItemsPersistedTotal.Inc()
	ig.markSeen(ctx, it.ID)

	if it.PublishedTS > 0 {
		if err := ig.store.Queries().UpdateWatermark(ctx, queryID, it.PublishedTS); err != nil {
			slog.Warn("watermark update failed", slog.Int64("query_id", queryID), slog.Any("error", err))
		}
	}

	n := BuildNotification(it, threadID)
	select {
	case ig.notify <- n:
		slog.Info("new item",
			slog.String("item_id", it.ID),
			slog.String("title", it.Title),
			slog.Int64("query_id", queryID))
	case <-ctx.Done():
	}
}

// enforceCap prunes the oldest items back to the floor once the hard cap is
// exceeded.
func (ig *Ingester) enforceCap(ctx context.Context) {
	count, err := ig.store.Items().Count(ctx)
	if err != nil || count < int64(ig.opts.HardCap) {
		return
	}
	deleted, err := ig.store.Items().PruneOldest(ctx, ig.opts.PruneFloor)
	if err != nil {
		slog.Error("item prune failed", slog.Any("error", err))
		return
	}
	slog.Info("pruned old items", slog.Int64("deleted", deleted), slog.Int("floor", ig.opts.PruneFloor))
}

func (ig *Ingester) alreadySeen(ctx context.Context, id string) bool {
	if ig.seen == nil {
		return false
	}
	n, err := ig.seen.Exists(ctx, seenKey(id)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

func (ig *Ingester) markSeen(ctx context.Context, id string) {
	if ig.seen == nil {
		return
	}
	if err := ig.seen.Set(ctx, seenKey(id), "1", seenKeyTTL).Err(); err != nil {
		slog.Debug("seen cache write failed", slog.Any("error", err))
	}
}

func seenKey(id string) string { return "seen:item:" + id }
