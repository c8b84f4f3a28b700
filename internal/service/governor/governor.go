// Package governor watches fleet-wide HTTP failures and requests an external
// restart when the upstream persistently refuses every worker.
package governor

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/observability"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

const (
	defaultThresholdMinutes = 4
	defaultMaxErrors        = 5
)

// RestartAction performs the actual restart. It returns the name of the
// mechanism that succeeded.
type RestartAction interface {
	Restart(ctx context.Context) (string, error)
}

// Options tunes the trigger policy. Threshold minutes and the error floor are
// read live from the parameters table so admins can tune them without a
// restart; the rest is fixed at boot.
type Options struct {
	SilenceReset   time.Duration
	SuccessStreak  int
	CriticalErrors int
	MinInterval    time.Duration
}

type counter struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// Governor tracks 401/403/429 counters under one mutex. Evaluation runs on
// the reporter's goroutine; the restart action itself runs outside the lock.
type Governor struct {
	params domain.ParameterRepository
	clock  domain.Clock
	action RestartAction
	opts   Options

	mu           sync.Mutex
	counters     map[int]*counter
	streak       int
	lastRedeploy time.Time
	restarting   bool
}

// New constructs a Governor. The persisted last_redeploy_time survives
// process restarts so a crash loop cannot defeat the cooldown.
func New(params domain.ParameterRepository, clock domain.Clock, action RestartAction, opts Options) *Governor {
	if opts.SilenceReset <= 0 {
		opts.SilenceReset = 5 * time.Minute
	}
	if opts.SuccessStreak <= 0 {
		opts.SuccessStreak = 10
	}
	if opts.CriticalErrors <= 0 {
		opts.CriticalErrors = 100
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 3 * time.Minute
	}
	g := &Governor{
		params:   params,
		clock:    clock,
		action:   action,
		opts:     opts,
		counters: map[int]*counter{401: {}, 403: {}, 429: {}},
	}
	if v, err := params.Get(context.Background(), domain.ParamLastRedeployTime); err == nil {
		if unix, perr := strconv.ParseInt(v, 10, 64); perr == nil && unix > 0 {
			g.lastRedeploy = time.Unix(unix, 0)
		}
	}
	return g
}

// ReportError records one upstream failure with the given status and
// evaluates the restart trigger. Statuses other than 401/403/429 are ignored.
func (g *Governor) ReportError(ctx context.Context, status int) {
	g.mu.Lock()
	c, tracked := g.counters[status]
	if !tracked {
		g.mu.Unlock()
		return
	}

	now := g.clock.Now()
	if !c.lastSeen.IsZero() && now.Sub(c.lastSeen) > g.opts.SilenceReset {
		c.count = 0
		c.firstSeen = time.Time{}
	}
	if c.firstSeen.IsZero() {
		c.firstSeen = now
		slog.Warn("first upstream rejection of a new burst", slog.Int("status", status))
	}
	c.count++
	c.lastSeen = now
	g.streak = 0
	observability.GovernorErrors.WithLabelValues(strconv.Itoa(status)).Set(float64(c.count))

	fire, critical := g.evaluateLocked(ctx, now)
	if fire && !g.restarting {
		g.restarting = true
		g.mu.Unlock()
		g.runRestart(ctx, critical)
		return
	}
	g.mu.Unlock()
}

// ReportSuccess records one successful catalog call. A sustained streak wipes
// the counters; a single success does not.
func (g *Governor) ReportSuccess(context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.streak++
	if g.streak >= g.opts.SuccessStreak && g.totalLocked() > 0 {
		slog.Info("upstream recovered, clearing error counters", slog.Int("streak", g.streak))
		g.resetLocked()
	}
}

// ForceRestart runs the restart chain immediately, bypassing all thresholds.
func (g *Governor) ForceRestart(ctx context.Context) {
	g.mu.Lock()
	if g.restarting {
		g.mu.Unlock()
		return
	}
	g.restarting = true
	g.mu.Unlock()
	g.runRestart(ctx, true)
}

func (g *Governor) evaluateLocked(ctx context.Context, now time.Time) (fire, critical bool) {
	total := g.totalLocked()
	if total >= g.opts.CriticalErrors {
		return true, true
	}

	earliest := time.Time{}
	for _, c := range g.counters {
		if c.count > 0 && (earliest.IsZero() || c.firstSeen.Before(earliest)) {
			earliest = c.firstSeen
		}
	}
	if earliest.IsZero() {
		return false, false
	}

	thresholdMin := domain.GetParamInt(ctx, g.params, domain.ParamRedeployThresholdM, defaultThresholdMinutes)
	maxErrors := domain.GetParamInt(ctx, g.params, domain.ParamMaxHTTPErrors, defaultMaxErrors)

	if now.Sub(earliest) < time.Duration(thresholdMin)*time.Minute {
		return false, false
	}
	if total < maxErrors {
		return false, false
	}
	if !g.lastRedeploy.IsZero() && now.Sub(g.lastRedeploy) < g.opts.MinInterval {
		slog.Warn("restart needed but cooling down",
			slog.Time("last_redeploy", g.lastRedeploy),
			slog.Int("total_errors", total))
		return false, false
	}
	return true, false
}

func (g *Governor) runRestart(ctx context.Context, critical bool) {
	g.mu.Lock()
	total := g.totalLocked()
	g.mu.Unlock()

	slog.Error("restart trigger fired",
		slog.Int("total_errors", total),
		slog.Bool("critical", critical))

	action, err := g.action.Restart(ctx)

	g.mu.Lock()
	g.restarting = false
	if err != nil {
		g.mu.Unlock()
		slog.Error("all restart actions failed", slog.Any("error", err))
		return
	}
	now := g.clock.Now()
	g.lastRedeploy = now
	g.resetLocked()
	g.mu.Unlock()

	observability.RedeploysTotal.WithLabelValues(action).Inc()
	if perr := g.params.Set(ctx, domain.ParamLastRedeployTime, strconv.FormatInt(now.Unix(), 10)); perr != nil {
		slog.Warn("failed to persist redeploy time", slog.Any("error", perr))
	}
	slog.Info("restart initiated", slog.String("action", action))
}

func (g *Governor) totalLocked() int {
	total := 0
	for _, c := range g.counters {
		total += c.count
	}
	return total
}

func (g *Governor) resetLocked() {
	for status, c := range g.counters {
		*c = counter{}
		observability.GovernorErrors.WithLabelValues(strconv.Itoa(status)).Set(0)
	}
	g.streak = 0
}

// CounterStatus is one status code's tracking state.
type CounterStatus struct {
	Count     int    `json:"count"`
	FirstSeen string `json:"first_seen,omitempty"`
	LastSeen  string `json:"last_seen,omitempty"`
}

// Status is the /redeploy_status payload.
type Status struct {
	Counters         map[string]CounterStatus `json:"counters"`
	TotalErrors      int                      `json:"total_errors"`
	SuccessStreak    int                      `json:"success_streak"`
	LastRedeployTime string                   `json:"last_redeploy_time,omitempty"`
	ThresholdMinutes int                      `json:"redeploy_threshold_minutes"`
	MaxErrors        int                      `json:"max_http_errors"`
	RestartNeeded    bool                     `json:"restart_needed"`
}

// Status snapshots the governor for the admin surface.
func (g *Governor) Status(ctx context.Context) Status {
	thresholdMin := domain.GetParamInt(ctx, g.params, domain.ParamRedeployThresholdM, defaultThresholdMinutes)
	maxErrors := domain.GetParamInt(ctx, g.params, domain.ParamMaxHTTPErrors, defaultMaxErrors)

	g.mu.Lock()
	defer g.mu.Unlock()

	st := Status{
		Counters:         make(map[string]CounterStatus, len(g.counters)),
		TotalErrors:      g.totalLocked(),
		SuccessStreak:    g.streak,
		ThresholdMinutes: thresholdMin,
		MaxErrors:        maxErrors,
	}
	earliest := time.Time{}
	for status, c := range g.counters {
		cs := CounterStatus{Count: c.count}
		if !c.firstSeen.IsZero() {
			cs.FirstSeen = c.firstSeen.UTC().Format(time.RFC3339)
			if earliest.IsZero() || c.firstSeen.Before(earliest) {
				earliest = c.firstSeen
			}
		}
		if !c.lastSeen.IsZero() {
			cs.LastSeen = c.lastSeen.UTC().Format(time.RFC3339)
		}
		st.Counters[strconv.Itoa(status)] = cs
	}
	if !g.lastRedeploy.IsZero() {
		st.LastRedeployTime = g.lastRedeploy.UTC().Format(time.RFC3339)
	}
	if !earliest.IsZero() {
		st.RestartNeeded = g.clock.Now().Sub(earliest) >= time.Duration(thresholdMin)*time.Minute &&
			st.TotalErrors >= maxErrors
	}
	return st
}
