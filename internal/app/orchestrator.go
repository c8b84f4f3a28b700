package app

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/vinted-notifier/internal/config"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
	"github.com/fairyhunter13/vinted-notifier/internal/usecase"
)

const priorityWorkerCount = 3

// SessionPool is the token pool surface the orchestrator needs: the worker
// slice plus pre-warming.
type SessionPool interface {
	usecase.SessionPool
	Prewarm(ctx context.Context, n int)
}

// ProxyCache is the proxy pool surface the orchestrator needs.
type ProxyCache interface {
	Refresh(ctx context.Context)
}

// Deps collects everything the orchestrator wires together.
type Deps struct {
	Store    domain.Store
	Sessions SessionPool
	Proxies  ProxyCache
	Catalog  usecase.Catalog
	Fleet    usecase.FleetReporter
	Stats    *usecase.WorkerStats
	// Seen is the optional redis hot cache handed to the ingester.
	Seen    *redis.Client
	Version string
}

// Orchestrator owns startup and the worker fleet: it pre-warms the pools,
// spawns one worker per normal query and three staggered workers per priority
// query, and runs the ingestion pipeline beside them.
type Orchestrator struct {
	cfg  config.Config
	deps Deps

	batches chan domain.ScanBatch
	notify  chan<- domain.Notification
}

// NewOrchestrator constructs the orchestrator. notify is the channel the
// Telegram sender drains.
func NewOrchestrator(cfg config.Config, deps Deps, notify chan<- domain.Notification) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		batches: make(chan domain.ScanBatch, 256),
		notify:  notify,
	}
}

// workerSpec fixes one worker's slot and start delay before spawning.
type workerSpec struct {
	query      domain.Query
	index      int
	startDelay time.Duration
}

// plan assigns worker indexes: one worker per normal query, three per
// priority query with staggered starts.
func (o *Orchestrator) plan(queries []domain.Query) []workerSpec {
	stagger := o.cfg.PriorityStagger
	if stagger <= 0 {
		stagger = 7 * time.Second
	}
	specs := make([]workerSpec, 0, len(queries))
	idx := 0
	for _, q := range queries {
		n := 1
		if q.Priority {
			n = priorityWorkerCount
		}
		for i := 0; i < n; i++ {
			specs = append(specs, workerSpec{
				query:      q,
				index:      idx,
				startDelay: time.Duration(i) * stagger,
			})
			idx++
		}
	}
	return specs
}

// Run blocks until the context is canceled and every worker has stopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.markStartup(ctx); err != nil {
		return err
	}

	o.deps.Proxies.Refresh(ctx)

	queries, err := o.deps.Store.Queries().List(ctx)
	if err != nil {
		return err
	}
	specs := o.plan(queries)
	slog.Info("starting worker fleet",
		slog.Int("queries", len(queries)),
		slog.Int("workers", len(specs)))

	o.deps.Sessions.Prewarm(ctx, len(specs))

	var wg sync.WaitGroup
	for _, spec := range specs {
		w := usecase.NewWorker(spec.query, o.deps.Sessions, o.deps.Catalog, o.deps.Fleet,
			o.deps.Store.Parameters(), o.deps.Stats, o.batches, usecase.WorkerOptions{
				WorkerIndex:   spec.index,
				StartDelay:    spec.startDelay,
				PriorityDelay: o.cfg.PriorityRefreshDelay,
			})
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	ingester := usecase.NewIngester(o.deps.Store, o.batches, o.notify, o.deps.Seen,
		domain.SystemClock{}, usecase.IngestOptions{
			MaxBatches: o.cfg.IngestMaxBatch,
			HardCap:    o.cfg.ItemsHardCap,
			PruneFloor: o.cfg.ItemsPruneFloor,
			Tick:       o.cfg.IngestTick,
		})
	wg.Add(1)
	go func() {
		defer wg.Done()
		ingester.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.monitor(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	slog.Info("worker fleet stopped")
	return nil
}

// markStartup resets the per-boot counters and records identity parameters.
func (o *Orchestrator) markStartup(ctx context.Context) error {
	params := o.deps.Store.Parameters()
	if err := params.Set(ctx, domain.ParamAPIRequests, "0"); err != nil {
		return err
	}
	if err := params.Set(ctx, domain.ParamBotStartTime, strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		return err
	}
	if o.deps.Version != "" {
		if err := params.Set(ctx, domain.ParamVersion, o.deps.Version); err != nil {
			return err
		}
	}
	return nil
}

// monitor periodically logs the fleet picture so operators can follow a
// deployment from plain logs.
func (o *Orchestrator) monitor(ctx context.Context) {
	interval := o.cfg.MonitorInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := o.deps.Stats.Snapshot()
			slog.Debug("fleet status",
				slog.Int("active_workers", snap.ActiveWorkers),
				slog.Int64("success", snap.TotalSuccess),
				slog.Int64("errors", snap.TotalErrors),
				slog.Int64("items", snap.TotalItems),
				slog.Int("pending_batches", len(o.batches)))
		}
	}
}
