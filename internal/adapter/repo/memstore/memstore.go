// Package memstore is the embedded store used when DATABASE_URL is unset.
//
// It keeps all entities in process memory behind one mutex, which is enough
// for local runs and for tests; data does not survive a restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

// Store implements domain.Store in memory.
type Store struct {
	mu        sync.Mutex
	nextQuery int64
	queries   map[int64]domain.Query
	items     map[string]domain.Item
	params    map[string]string
	allowlist map[string]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nextQuery: 1,
		queries:   make(map[int64]domain.Query),
		items:     make(map[string]domain.Item),
		params:    make(map[string]string),
		allowlist: make(map[string]struct{}),
	}
}

// Queries returns the query repository view.
func (s *Store) Queries() domain.QueryRepository { return (*queryRepo)(s) }

// Items returns the item repository view.
func (s *Store) Items() domain.ItemRepository { return (*itemRepo)(s) }

// Parameters returns the parameter repository view.
func (s *Store) Parameters() domain.ParameterRepository { return (*paramRepo)(s) }

// Allowlist returns the allowlist repository view.
func (s *Store) Allowlist() domain.AllowlistRepository { return (*allowRepo)(s) }

type queryRepo Store

func (r *queryRepo) Create(_ context.Context, q domain.Query) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.queries {
		if existing.URL == q.URL {
			return 0, fmt.Errorf("op=query.create url=%s: %w", q.URL, domain.ErrConflict)
		}
	}
	q.ID = r.nextQuery
	r.nextQuery++
	r.queries[q.ID] = q
	return q.ID, nil
}

func (r *queryRepo) Get(_ context.Context, id int64) (domain.Query, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queries[id]
	if !ok {
		return domain.Query{}, fmt.Errorf("op=query.get id=%d: %w", id, domain.ErrNotFound)
	}
	return q, nil
}

func (r *queryRepo) GetByURL(_ context.Context, url string) (domain.Query, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queries {
		if q.URL == url {
			return q, nil
		}
	}
	return domain.Query{}, fmt.Errorf("op=query.get_by_url: %w", domain.ErrNotFound)
}

func (r *queryRepo) List(_ context.Context) ([]domain.Query, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Query, 0, len(r.queries))
	for _, q := range r.queries {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *queryRepo) Update(_ context.Context, q domain.Query) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queries[q.ID]; !ok {
		return fmt.Errorf("op=query.update id=%d: %w", q.ID, domain.ErrNotFound)
	}
	r.queries[q.ID] = q
	return nil
}

func (r *queryRepo) UpdateThreadID(_ context.Context, id int64, threadID *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queries[id]
	if !ok {
		return fmt.Errorf("op=query.update_thread id=%d: %w", id, domain.ErrNotFound)
	}
	q.ThreadID = threadID
	r.queries[id] = q
	return nil
}

func (r *queryRepo) UpdateWatermark(_ context.Context, id int64, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queries[id]
	if !ok {
		return fmt.Errorf("op=query.update_watermark id=%d: %w", id, domain.ErrNotFound)
	}
	if ts > q.LastItemTS {
		q.LastItemTS = ts
		r.queries[id] = q
	}
	return nil
}

func (r *queryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queries[id]; !ok {
		return fmt.Errorf("op=query.delete id=%d: %w", id, domain.ErrNotFound)
	}
	delete(r.queries, id)
	// cascade
	for itemID, it := range r.items {
		if it.QueryID == id {
			delete(r.items, itemID)
		}
	}
	return nil
}

func (r *queryRepo) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = make(map[int64]domain.Query)
	r.items = make(map[string]domain.Item)
	return nil
}

type itemRepo Store

func (r *itemRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[id]
	return ok, nil
}

func (r *itemRepo) Insert(_ context.Context, it domain.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[it.ID]; ok {
		return fmt.Errorf("op=item.insert id=%s: %w", it.ID, domain.ErrConflict)
	}
	r.items[it.ID] = it
	return nil
}

func (r *itemRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.items)), nil
}

func (r *itemRepo) PruneOldest(_ context.Context, keep int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) <= keep {
		return 0, nil
	}
	all := make([]domain.Item, 0, len(r.items))
	for _, it := range r.items {
		all = append(all, it)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PublishedTS < all[j].PublishedTS })
	var deleted int64
	for _, it := range all[:len(all)-keep] {
		delete(r.items, it.ID)
		deleted++
	}
	return deleted, nil
}

func (r *itemRepo) List(_ context.Context, queryURL string, limit int) ([]domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var queryID int64 = -1
	if queryURL != "" {
		for _, q := range r.queries {
			if q.URL == queryURL {
				queryID = q.ID
				break
			}
		}
		if queryID == -1 {
			return nil, nil
		}
	}
	out := make([]domain.Item, 0, len(r.items))
	for _, it := range r.items {
		if queryID != -1 && it.QueryID != queryID {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FoundTS > out[j].FoundTS })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *itemRepo) LastFound(_ context.Context) (domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best domain.Item
	found := false
	for _, it := range r.items {
		if !found || it.FoundTS > best.FoundTS {
			best = it
			found = true
		}
	}
	if !found {
		return domain.Item{}, fmt.Errorf("op=item.last_found: %w", domain.ErrNotFound)
	}
	return best, nil
}

func (r *itemRepo) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]domain.Item)
	return nil
}

func (r *itemRepo) PerDay(_ context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return 0, nil
	}
	var oldest int64
	first := true
	for _, it := range r.items {
		if first || it.FoundTS < oldest {
			oldest = it.FoundTS
			first = false
		}
	}
	days := time.Since(time.Unix(oldest, 0)).Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(len(r.items)) / days, nil
}

type paramRepo Store

func (r *paramRepo) Get(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.params[key]
	if !ok {
		return "", fmt.Errorf("op=param.get key=%s: %w", key, domain.ErrNotFound)
	}
	return v, nil
}

func (r *paramRepo) Set(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params[key] = value
	return nil
}

func (r *paramRepo) Increment(_ context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, _ := strconv.ParseInt(r.params[key], 10, 64)
	n++
	r.params[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (r *paramRepo) All(_ context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.params))
	for k, v := range r.params {
		out[k] = v
	}
	return out, nil
}

type allowRepo Store

func (r *allowRepo) Add(_ context.Context, country string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.allowlist[country]; ok {
		return fmt.Errorf("op=allowlist.add country=%s: %w", country, domain.ErrConflict)
	}
	r.allowlist[country] = struct{}{}
	return nil
}

func (r *allowRepo) Remove(_ context.Context, country string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.allowlist, country)
	return nil
}

func (r *allowRepo) List(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.allowlist))
	for c := range r.allowlist {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (r *allowRepo) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowlist = make(map[string]struct{})
	return nil
}
