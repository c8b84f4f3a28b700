package usecase

import (
	"sync"
	"time"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/observability"
)

// ScanRecord is one worker scan outcome kept for the admin dashboard.
type ScanRecord struct {
	Time   time.Time `json:"time"`
	Status string    `json:"status"`
	Items  int       `json:"items"`
}

type workerBucket struct {
	QueryID   int64        `json:"query_id"`
	QueryName string       `json:"query_name"`
	Success   int64        `json:"success"`
	Errors    int64        `json:"errors"`
	Items     int64        `json:"items"`
	LastScans []ScanRecord `json:"last_scans"`
}

// WorkerStats aggregates per-worker scan outcomes. Each bucket keeps running
// totals plus the last three scans.
type WorkerStats struct {
	mu      sync.Mutex
	buckets map[int]*workerBucket
	active  int
}

// NewWorkerStats constructs an empty stats table.
func NewWorkerStats() *WorkerStats {
	return &WorkerStats{buckets: make(map[int]*workerBucket)}
}

// Register names a worker's bucket before its first scan.
func (s *WorkerStats) Register(workerIndex int, queryID int64, queryName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[workerIndex] = &workerBucket{QueryID: queryID, QueryName: queryName}
}

// Record stores one scan outcome for a worker.
func (s *WorkerStats) Record(workerIndex int, success bool, items int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.buckets[workerIndex]
	if b == nil {
		b = &workerBucket{}
		s.buckets[workerIndex] = b
	}
	status := "success"
	if success {
		b.Success++
		b.Items += int64(items)
	} else {
		b.Errors++
		status = "error"
	}
	b.LastScans = append(b.LastScans, ScanRecord{Time: time.Now(), Status: status, Items: items})
	if len(b.LastScans) > 3 {
		b.LastScans = b.LastScans[len(b.LastScans)-3:]
	}
}

// WorkerStarted marks one more worker live.
func (s *WorkerStats) WorkerStarted() {
	s.mu.Lock()
	s.active++
	active := s.active
	s.mu.Unlock()
	observability.WorkersActive.Set(float64(active))
}

// WorkerStopped marks one worker gone.
func (s *WorkerStats) WorkerStopped() {
	s.mu.Lock()
	s.active--
	active := s.active
	s.mu.Unlock()
	observability.WorkersActive.Set(float64(active))
}

// ActiveWorkers returns the number of live workers.
func (s *WorkerStats) ActiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// StatsSnapshot is the admin dashboard view of the fleet.
type StatsSnapshot struct {
	ActiveWorkers int                  `json:"active_workers"`
	TotalSuccess  int64                `json:"total_success"`
	TotalErrors   int64                `json:"total_errors"`
	TotalItems    int64                `json:"total_items"`
	Workers       map[int]workerBucket `json:"workers"`
}

// Snapshot copies the stats table.
func (s *WorkerStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatsSnapshot{
		ActiveWorkers: s.active,
		Workers:       make(map[int]workerBucket, len(s.buckets)),
	}
	for idx, b := range s.buckets {
		cp := *b
		cp.LastScans = append([]ScanRecord(nil), b.LastScans...)
		snap.Workers[idx] = cp
		snap.TotalSuccess += b.Success
		snap.TotalErrors += b.Errors
		snap.TotalItems += b.Items
	}
	return snap
}
