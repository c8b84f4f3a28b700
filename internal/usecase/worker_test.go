package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/repo/memstore"
	"github.com/fairyhunter13/vinted-notifier/internal/adapter/vinted"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

type fakePool struct {
	mu          sync.Mutex
	scans       int
	fresh       int
	successes   int
	errorsSeen  int
	invalidated int
	rotateEach  int
	freshErr    error
}

func (p *fakePool) Acquire(context.Context, int) (vinted.Session, error) {
	return vinted.Session{Token: "tok"}, nil
}

func (p *fakePool) CreateFreshPair(context.Context, int) (vinted.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.freshErr != nil {
		return vinted.Session{}, p.freshErr
	}
	p.fresh++
	return vinted.Session{Token: "fresh"}, nil
}

func (p *fakePool) ReportSuccess(int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successes++
}

func (p *fakePool) ReportError(int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorsSeen++
	return true
}

func (p *fakePool) RecordScan(int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scans++
	return p.rotateEach > 0 && p.scans%p.rotateEach == 0
}

func (p *fakePool) Invalidate(int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated++
}

type fakeCatalog struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
	calls    int
}

func (c *fakeCatalog) Search(context.Context, vinted.Session, string, int) domain.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.outcomes[0]
	if len(c.outcomes) > 1 {
		c.outcomes = c.outcomes[1:]
	}
	c.calls++
	return out
}

type fakeFleet struct {
	mu        sync.Mutex
	successes int
	errors    []int
}

func (f *fakeFleet) ReportSuccess(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
}

func (f *fakeFleet) ReportError(_ context.Context, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, status)
}

func workerHarness(pool *fakePool, catalog *fakeCatalog, fleet *fakeFleet, priority bool) (*Worker, chan domain.ScanBatch) {
	store := memstore.New()
	out := make(chan domain.ScanBatch, 8)
	q := domain.Query{ID: 1, URL: "https://x.test/catalog?search_text=shoes&order=newest_first", Priority: priority}
	w := NewWorker(q, pool, catalog, fleet, store.Parameters(), NewWorkerStats(), out, WorkerOptions{WorkerIndex: 0})
	return w, out
}

func itemsOutcome(ids ...string) domain.Outcome {
	items := make([]domain.Item, len(ids))
	for i, id := range ids {
		items[i] = domain.Item{ID: id}
	}
	return domain.Outcome{Kind: domain.OutcomeItems, Items: items, Status: 200}
}

func TestScanOnce_SuccessPublishesBatch(t *testing.T) {
	pool := &fakePool{}
	catalog := &fakeCatalog{outcomes: []domain.Outcome{itemsOutcome("A", "B")}}
	fleet := &fakeFleet{}
	w, out := workerHarness(pool, catalog, fleet, false)

	w.scanOnce(context.Background(), testLogger())

	require.Len(t, out, 1)
	batch := <-out
	assert.Equal(t, int64(1), batch.QueryID)
	assert.Len(t, batch.Items, 2)
	assert.Equal(t, 1, pool.successes)
	assert.Equal(t, 1, fleet.successes)
	assert.Equal(t, 1, pool.scans)
}

func TestScanOnce_EmptyResultStillCountsAsScan(t *testing.T) {
	pool := &fakePool{}
	catalog := &fakeCatalog{outcomes: []domain.Outcome{itemsOutcome()}}
	fleet := &fakeFleet{}
	w, out := workerHarness(pool, catalog, fleet, false)

	w.scanOnce(context.Background(), testLogger())
	assert.Empty(t, out)
	assert.Equal(t, 1, pool.scans)
	assert.Equal(t, 1, fleet.successes)
}

func TestScanOnce_AuthRejectionRetriesWithFreshPair(t *testing.T) {
	pool := &fakePool{}
	catalog := &fakeCatalog{outcomes: []domain.Outcome{
		{Kind: domain.OutcomeHTTPError, Status: 403},
		itemsOutcome("B"),
	}}
	fleet := &fakeFleet{}
	w, out := workerHarness(pool, catalog, fleet, false)

	w.scanOnce(context.Background(), testLogger())

	require.Len(t, out, 1)
	batch := <-out
	assert.Equal(t, "B", batch.Items[0].ID)
	assert.Equal(t, []int{403}, fleet.errors)
	assert.Equal(t, 1, fleet.successes)
	assert.Equal(t, 1, pool.fresh)
	assert.Equal(t, 2, catalog.calls)
}

func TestScanOnce_AuthRetriesExhaust(t *testing.T) {
	pool := &fakePool{}
	catalog := &fakeCatalog{outcomes: []domain.Outcome{
		{Kind: domain.OutcomeHTTPError, Status: 403},
	}}
	fleet := &fakeFleet{}
	w, out := workerHarness(pool, catalog, fleet, false)

	w.scanOnce(context.Background(), testLogger())

	assert.Empty(t, out)
	// Initial 403 plus three failed retries.
	assert.Equal(t, []int{403, 403, 403, 403}, fleet.errors)
	assert.Equal(t, 3, pool.fresh)
	assert.Equal(t, 4, catalog.calls)
}

func TestScanOnce_RateLimitDoesNotRetry(t *testing.T) {
	pool := &fakePool{}
	catalog := &fakeCatalog{outcomes: []domain.Outcome{
		{Kind: domain.OutcomeHTTPError, Status: 429},
	}}
	fleet := &fakeFleet{}
	w, out := workerHarness(pool, catalog, fleet, false)

	w.scanOnce(context.Background(), testLogger())

	assert.Empty(t, out)
	assert.Equal(t, []int{429}, fleet.errors)
	assert.Equal(t, 0, pool.fresh)
	assert.Equal(t, 1, catalog.calls)
}

func TestScanOnce_TransportErrorReportsFleet(t *testing.T) {
	pool := &fakePool{}
	catalog := &fakeCatalog{outcomes: []domain.Outcome{
		{Kind: domain.OutcomeTransport, Cause: errors.New("dial refused")},
	}}
	fleet := &fakeFleet{}
	w, out := workerHarness(pool, catalog, fleet, false)

	w.scanOnce(context.Background(), testLogger())

	assert.Empty(t, out)
	assert.Len(t, fleet.errors, 1)
	assert.Equal(t, 1, pool.errorsSeen)
}

func TestScanOnce_ScheduledRotation(t *testing.T) {
	pool := &fakePool{rotateEach: 5}
	catalog := &fakeCatalog{outcomes: []domain.Outcome{itemsOutcome()}}
	fleet := &fakeFleet{}
	w, _ := workerHarness(pool, catalog, fleet, false)

	for i := 0; i < 5; i++ {
		w.scanOnce(context.Background(), testLogger())
		assert.Equal(t, 0, pool.fresh, "no rotation before the fifth scan completes")
	}
	require.True(t, w.rotateDue)

	// The sixth cycle rotates before scanning.
	w.scanOnce(context.Background(), testLogger())
	assert.Equal(t, 1, pool.fresh)
	assert.False(t, w.rotateDue)
}

func TestScanOnce_RotationFailureKeepsSession(t *testing.T) {
	pool := &fakePool{freshErr: errors.New("landing page blocked")}
	catalog := &fakeCatalog{outcomes: []domain.Outcome{itemsOutcome("A")}}
	fleet := &fakeFleet{}
	w, out := workerHarness(pool, catalog, fleet, false)
	w.rotateDue = true

	w.scanOnce(context.Background(), testLogger())

	// The old session was neither retired nor skipped over.
	assert.Equal(t, 0, pool.invalidated)
	assert.Equal(t, 1, catalog.calls)
	require.Len(t, out, 1)
	assert.Equal(t, 1, fleet.successes)
	assert.False(t, w.rotateDue)
}

func TestRefreshDelay_PriorityIsFixed(t *testing.T) {
	pool := &fakePool{}
	catalog := &fakeCatalog{outcomes: []domain.Outcome{itemsOutcome()}}
	w, _ := workerHarness(pool, catalog, &fakeFleet{}, true)

	assert.Equal(t, 20*time.Second, w.refreshDelay(context.Background()))
}

func TestRefreshDelay_ReadsLiveParameter(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.Parameters().Set(context.Background(), domain.ParamQueryRefreshDelay, "15"))

	q := domain.Query{ID: 1, URL: "https://x.test/catalog?search_text=a"}
	w := NewWorker(q, &fakePool{}, &fakeCatalog{outcomes: []domain.Outcome{itemsOutcome()}}, &fakeFleet{},
		store.Parameters(), NewWorkerStats(), make(chan domain.ScanBatch, 1), WorkerOptions{})

	assert.Equal(t, 15*time.Second, w.refreshDelay(context.Background()))

	require.NoError(t, store.Parameters().Set(context.Background(), domain.ParamQueryRefreshDelay, "45"))
	assert.Equal(t, 45*time.Second, w.refreshDelay(context.Background()))
}

func TestRun_StopsOnCancel(t *testing.T) {
	pool := &fakePool{}
	catalog := &fakeCatalog{outcomes: []domain.Outcome{itemsOutcome()}}
	w, _ := workerHarness(pool, catalog, &fakeFleet{}, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not observe cancellation")
	}
}

func TestWorkerStats_SnapshotTotals(t *testing.T) {
	stats := NewWorkerStats()
	stats.Register(0, 1, "shoes")
	stats.Record(0, true, 3)
	stats.Record(0, true, 1)
	stats.Record(0, false, 0)
	stats.Record(0, true, 2)

	snap := stats.Snapshot()
	b := snap.Workers[0]
	assert.Equal(t, int64(3), b.Success)
	assert.Equal(t, int64(1), b.Errors)
	assert.Equal(t, int64(6), b.Items)
	// Oldest first, trimmed to the last three of four recorded scans.
	require.Len(t, b.LastScans, 3)
	assert.Equal(t, "success", b.LastScans[0].Status)
	assert.Equal(t, "error", b.LastScans[1].Status)
	assert.Equal(t, "success", b.LastScans[2].Status)
	assert.Equal(t, 2, b.LastScans[2].Items)
	assert.Equal(t, int64(3), snap.TotalSuccess)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
