package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/observability"
	"github.com/fairyhunter13/vinted-notifier/internal/adapter/vinted"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

const (
	defaultRefreshDelay  = 60
	defaultItemsPerQuery = 20
	authRetryAttempts    = 3
)

// SessionPool is the slice of the token pool a worker uses.
type SessionPool interface {
	Acquire(ctx context.Context, slot int) (vinted.Session, error)
	CreateFreshPair(ctx context.Context, slot int) (vinted.Session, error)
	ReportSuccess(slot int)
	ReportError(slot int) bool
	RecordScan(slot int) bool
	Invalidate(slot int, reason string)
}

// Catalog executes one classified search.
type Catalog interface {
	Search(ctx context.Context, s vinted.Session, rawURL string, perPage int) domain.Outcome
}

// FleetReporter receives per-request outcomes for the restart decision.
type FleetReporter interface {
	ReportSuccess(ctx context.Context)
	ReportError(ctx context.Context, status int)
}

// WorkerOptions fixes a worker's identity and cadence.
type WorkerOptions struct {
	WorkerIndex int
	StartDelay  time.Duration
	// PriorityDelay replaces the store-driven refresh delay for priority
	// queries.
	PriorityDelay time.Duration
}

// Worker scans one saved search in a loop. Priority queries get three workers
// with staggered starts; each worker owns one session slot.
type Worker struct {
	query    domain.Query
	pool     SessionPool
	catalog  Catalog
	governor FleetReporter
	params   domain.ParameterRepository
	stats    *WorkerStats
	out      chan<- domain.ScanBatch
	opts     WorkerOptions

	rotateDue bool
}

// NewWorker constructs a worker for one query.
func NewWorker(q domain.Query, pool SessionPool, catalog Catalog, governor FleetReporter, params domain.ParameterRepository, stats *WorkerStats, out chan<- domain.ScanBatch, opts WorkerOptions) *Worker {
	if opts.PriorityDelay <= 0 {
		opts.PriorityDelay = 20 * time.Second
	}
	return &Worker{
		query:    q,
		pool:     pool,
		catalog:  catalog,
		governor: governor,
		params:   params,
		stats:    stats,
		out:      out,
		opts:     opts,
	}
}

// Run loops until the context is canceled. Shutdown is observed at every
// sleep boundary and between retries.
func (w *Worker) Run(ctx context.Context) {
	w.stats.Register(w.opts.WorkerIndex, w.query.ID, w.query.Name)
	w.stats.WorkerStarted()
	defer w.stats.WorkerStopped()

	log := slog.With(
		slog.Int("worker", w.opts.WorkerIndex),
		slog.Int64("query_id", w.query.ID),
		slog.Bool("priority", w.query.Priority))

	if w.opts.StartDelay > 0 {
		log.Info("staggered start", slog.Duration("delay", w.opts.StartDelay))
		if !sleepCtx(ctx, w.opts.StartDelay) {
			return
		}
	}
	log.Info("worker started")

	for {
		refresh := w.refreshDelay(ctx)
		w.scanOnce(ctx, log)
		if !sleepCtx(ctx, refresh) {
			log.Info("worker stopped")
			return
		}
	}
}

// refreshDelay reads the live cadence: fixed for priority queries, otherwise
// from the parameters table each cycle so admin changes apply without restart.
func (w *Worker) refreshDelay(ctx context.Context) time.Duration {
	if w.query.Priority {
		return w.opts.PriorityDelay
	}
	secs := domain.GetParamInt(ctx, w.params, domain.ParamQueryRefreshDelay, defaultRefreshDelay)
	if secs <= 0 {
		secs = defaultRefreshDelay
	}
	return time.Duration(secs) * time.Second
}

func (w *Worker) scanOnce(ctx context.Context, log *slog.Logger) {
	perPage := domain.GetParamInt(ctx, w.params, domain.ParamItemsPerQuery, defaultItemsPerQuery)
	slot := w.opts.WorkerIndex

	if w.rotateDue {
		w.rotateDue = false
		// The fresh pair replaces the slot in place on success; on failure
		// the current session stays live so the scan still happens.
		if _, err := w.pool.CreateFreshPair(ctx, slot); err != nil {
			log.Warn("scheduled rotation failed, keeping current session", slog.Any("error", err))
		} else {
			observability.SessionRotationsTotal.WithLabelValues("scheduled").Inc()
			log.Info("scheduled rotation complete")
		}
	}

	session, err := w.pool.Acquire(ctx, slot)
	if err != nil {
		log.Error("no session available", slog.Any("error", err))
		w.stats.Record(slot, false, 0)
		return
	}

	start := time.Now()
	out := w.catalog.Search(ctx, session, w.query.URL, perPage)

	switch {
	case out.Kind == domain.OutcomeItems:
		w.handleSuccess(ctx, log, slot, out, time.Since(start))

	case out.AuthRejected():
		log.Warn("auth rejected, retrying with fresh pairs", slog.Int("status", out.Status))
		w.governor.ReportError(ctx, out.Status)
		w.pool.ReportError(slot)
		w.stats.Record(slot, false, 0)
		w.retryWithFreshPairs(ctx, log, slot, perPage)

	case out.RateLimited():
		log.Warn("rate limited, backing off this cycle")
		w.governor.ReportError(ctx, out.Status)
		w.pool.ReportError(slot)
		w.stats.Record(slot, false, 0)

	case out.Kind == domain.OutcomeHTTPError:
		log.Error("unexpected upstream status",
			slog.Int("status", out.Status),
			slog.String("body", out.Body))
		w.pool.ReportError(slot)
		w.stats.Record(slot, false, 0)

	default:
		log.Error("transport failure", slog.Any("error", out.Cause))
		// Transport failures count against the fleet like an anti-bot
		// rejection; a proxy-wide outage should still trip the governor.
		w.governor.ReportError(ctx, 403)
		w.pool.ReportError(slot)
		w.stats.Record(slot, false, 0)
	}
}

func (w *Worker) handleSuccess(ctx context.Context, log *slog.Logger, slot int, out domain.Outcome, elapsed time.Duration) {
	w.pool.ReportSuccess(slot)
	w.governor.ReportSuccess(ctx)
	w.stats.Record(slot, true, len(out.Items))
	if w.pool.RecordScan(slot) {
		w.rotateDue = true
	}

	if len(out.Items) == 0 {
		log.Debug("no items", slog.Duration("elapsed", elapsed))
		return
	}
	observability.ItemsFoundTotal.Add(float64(len(out.Items)))
	log.Info("items found", slog.Int("count", len(out.Items)), slog.Duration("elapsed", elapsed))
	select {
	case w.out <- domain.ScanBatch{Items: out.Items, QueryID: w.query.ID}:
	case <-ctx.Done():
	}
}

// retryWithFreshPairs handles 401/403: up to three immediate retries, each on
// a brand-new (token, proxy) pair. A mid-retry success counts as a normal
// successful scan.
func (w *Worker) retryWithFreshPairs(ctx context.Context, log *slog.Logger, slot, perPage int) {
	for attempt := 1; attempt <= authRetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		session, err := w.pool.CreateFreshPair(ctx, slot)
		if err != nil {
			log.Warn("fresh pair unavailable for retry",
				slog.Int("attempt", attempt), slog.Any("error", err))
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		start := time.Now()
		out := w.catalog.Search(ctx, session, w.query.URL, perPage)
		switch {
		case out.Kind == domain.OutcomeItems:
			log.Info("retry succeeded", slog.Int("attempt", attempt))
			w.handleSuccess(ctx, log, slot, out, time.Since(start))
			return
		case out.AuthRejected():
			log.Warn("retry rejected", slog.Int("attempt", attempt), slog.Int("status", out.Status))
			w.governor.ReportError(ctx, out.Status)
			w.pool.ReportError(slot)
		default:
			// A different failure mode; stop burning fresh pairs this cycle.
			if out.Kind == domain.OutcomeHTTPError {
				w.governor.ReportError(ctx, out.Status)
			}
			w.pool.ReportError(slot)
			log.Warn("retry hit a different failure, giving up this cycle",
				slog.Int("attempt", attempt), slog.Int("status", out.Status))
			return
		}
	}
	log.Error("all auth retries exhausted, waiting for next cycle")
}

// sleepCtx sleeps d or returns false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
