// Package tokenpool manages the bearer-token sessions the scrape workers run
// on. Each worker owns one slot; the pool creates, replaces and retires the
// session behind that slot so workers never share anti-bot identity.
package tokenpool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/observability"
	"github.com/fairyhunter13/vinted-notifier/internal/adapter/vinted"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
	"github.com/fairyhunter13/vinted-notifier/internal/service/proxypool"
)

// TokenAcquirer obtains a bearer token by navigating the landing page with
// the given client and user agent.
type TokenAcquirer interface {
	AcquireToken(ctx context.Context, hc *http.Client, baseURL, ua string) (string, error)
}

// ProxySource hands out a proxy for a new session. Empty means direct.
type ProxySource interface {
	GetRandom(ctx context.Context) string
}

// Options bounds the pool.
type Options struct {
	BaseURL        string
	MaxSize        int
	PrewarmWorkers int
	MaxErrors      int
	RotateScans    int
	TokenTimeout   time.Duration
	// CatalogTimeout caps every catalog call made with a session's client;
	// token acquisition is bounded separately by TokenTimeout.
	CatalogTimeout time.Duration
}

type entry struct {
	id        string
	session   vinted.Session
	proxy     string
	createdAt time.Time
	errors    int
	scans     int
	valid     bool
}

// Pool holds one session slot per worker.
type Pool struct {
	acquirer TokenAcquirer
	proxies  ProxySource
	opts     Options

	mu    sync.Mutex
	slots map[int]*entry
}

// New constructs a Pool.
func New(acquirer TokenAcquirer, proxies ProxySource, opts Options) *Pool {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.vinted.de"
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}
	if opts.PrewarmWorkers <= 0 {
		opts.PrewarmWorkers = 10
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 5
	}
	if opts.RotateScans <= 0 {
		opts.RotateScans = 5
	}
	if opts.TokenTimeout <= 0 {
		opts.TokenTimeout = 30 * time.Second
	}
	if opts.CatalogTimeout <= 0 {
		opts.CatalogTimeout = 30 * time.Second
	}
	return &Pool{
		acquirer: acquirer,
		proxies:  proxies,
		opts:     opts,
		slots:    make(map[int]*entry),
	}
}

// Acquire returns the session for a slot, building a fresh one when the slot
// is empty or its session has been invalidated.
func (p *Pool) Acquire(ctx context.Context, slot int) (vinted.Session, error) {
	p.mu.Lock()
	e := p.slots[slot]
	p.mu.Unlock()
	if e != nil && e.valid {
		return e.session, nil
	}
	return p.CreateFreshPair(ctx, slot)
}

// CreateFreshPair replaces the slot's session with a new (token, proxy, UA)
// triple. The old session is discarded in place so the pool never grows past
// one session per slot.
func (p *Pool) CreateFreshPair(ctx context.Context, slot int) (vinted.Session, error) {
	if slot < 0 || slot >= p.opts.MaxSize {
		return vinted.Session{}, fmt.Errorf("op=tokenpool.create: slot %d out of range: %w", slot, domain.ErrInvalidArgument)
	}

	proxy := p.proxies.GetRandom(ctx)
	hc, err := p.buildClient(proxy)
	if err != nil {
		return vinted.Session{}, err
	}
	ua := vinted.RandomUserAgent()

	var token string
	op := func() error {
		tctx, cancel := context.WithTimeout(ctx, p.opts.TokenTimeout)
		defer cancel()
		tok, err := p.acquirer.AcquireToken(tctx, hc, p.opts.BaseURL, ua)
		if err != nil {
			return err
		}
		token = tok
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return vinted.Session{}, fmt.Errorf("op=tokenpool.create slot=%d: %w", slot, err)
	}

	e := &entry{
		id:        uuid.NewString(),
		session:   vinted.Session{Client: hc, UserAgent: ua, Token: token},
		proxy:     proxy,
		createdAt: time.Now(),
		valid:     true,
	}

	p.mu.Lock()
	p.slots[slot] = e
	p.mu.Unlock()
	p.updateGauge()

	slog.Info("session created",
		slog.Int("slot", slot),
		slog.String("session_id", e.id),
		slog.String("proxy", proxypool.Mask(proxy)),
		slog.String("user_agent", ua))
	return e.session, nil
}

// buildClient assembles a per-session HTTP client: its own cookie jar so token
// cookies never leak across sessions, and its own transport bound to the
// session's proxy.
func (p *Pool) buildClient(proxy string) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("op=tokenpool.build_client: %w", err)
	}
	base := &http.Transport{
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxy != "" {
		proxyURL, err := proxypool.ParseProxyURL(proxy)
		if err != nil {
			return nil, err
		}
		base.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{
		Jar:       jar,
		Transport: otelhttp.NewTransport(base),
		Timeout:   p.opts.CatalogTimeout,
	}, nil
}

// Prewarm builds sessions for the first n slots with a bounded worker group,
// jittering starts so the upstream never sees a burst of landing-page hits.
func (p *Pool) Prewarm(ctx context.Context, n int) {
	if n > p.opts.MaxSize {
		n = p.opts.MaxSize
	}
	workers := p.opts.PrewarmWorkers
	if workers > n {
		workers = n
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slot := range jobs {
				select {
				case <-time.After(time.Duration(rand.Intn(500)) * time.Millisecond):
				case <-ctx.Done():
					return
				}
				if _, err := p.CreateFreshPair(ctx, slot); err != nil {
					slog.Warn("prewarm failed", slog.Int("slot", slot), slog.Any("error", err))
				}
			}
		}()
	}
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	slog.Info("session prewarm complete", slog.Int("requested", n), slog.Int("valid", p.ValidCount()))
}

// ReportSuccess resets the slot's consecutive error count.
func (p *Pool) ReportSuccess(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.slots[slot]; e != nil {
		e.errors = 0
	}
}

// ReportError counts one failure against the slot's session and invalidates
// it once the error limit is reached. It reports whether the session is still
// valid.
func (p *Pool) ReportError(slot int) bool {
	p.mu.Lock()
	e := p.slots[slot]
	if e == nil || !e.valid {
		p.mu.Unlock()
		return false
	}
	e.errors++
	tripped := e.errors >= p.opts.MaxErrors
	if tripped {
		e.valid = false
	}
	p.mu.Unlock()

	if tripped {
		observability.SessionRotationsTotal.WithLabelValues("errors").Inc()
		p.updateGauge()
		slog.Warn("session invalidated after repeated errors", slog.Int("slot", slot), slog.Int("errors", p.opts.MaxErrors))
	}
	return !tripped
}

// RecordScan counts one completed scan and reports whether the slot is due
// for its scheduled rotation.
func (p *Pool) RecordScan(slot int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.slots[slot]
	if e == nil {
		return false
	}
	e.scans++
	return e.scans%p.opts.RotateScans == 0
}

// Invalidate retires the slot's session. reason labels the rotation metric.
func (p *Pool) Invalidate(slot int, reason string) {
	p.mu.Lock()
	if e := p.slots[slot]; e != nil && e.valid {
		e.valid = false
		p.mu.Unlock()
		observability.SessionRotationsTotal.WithLabelValues(reason).Inc()
		p.updateGauge()
		slog.Info("session invalidated", slog.Int("slot", slot), slog.String("reason", reason))
		return
	}
	p.mu.Unlock()
}

// ValidCount returns the number of live sessions.
func (p *Pool) ValidCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.slots {
		if e.valid {
			n++
		}
	}
	return n
}

func (p *Pool) updateGauge() {
	observability.SessionsValid.Set(float64(p.ValidCount()))
}

// SessionStat is one slot's state for the admin surface.
type SessionStat struct {
	Slot      int    `json:"slot"`
	SessionID string `json:"session_id"`
	Proxy     string `json:"proxy"`
	UserAgent string `json:"user_agent"`
	CreatedAt string `json:"created_at"`
	Errors    int    `json:"errors"`
	Scans     int    `json:"scans"`
	Valid     bool   `json:"valid"`
}

// Stats snapshots every populated slot, credentials masked.
func (p *Pool) Stats() []SessionStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SessionStat, 0, len(p.slots))
	for slot, e := range p.slots {
		out = append(out, SessionStat{
			Slot:      slot,
			SessionID: e.id,
			Proxy:     proxypool.Mask(e.proxy),
			UserAgent: e.session.UserAgent,
			CreatedAt: e.createdAt.UTC().Format(time.RFC3339),
			Errors:    e.errors,
			Scans:     e.scans,
			Valid:     e.valid,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}
