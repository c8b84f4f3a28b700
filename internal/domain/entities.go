// Package domain holds the entities, ports and error taxonomy shared by all
// components. It stays free of transport and storage concerns.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	// ErrUpstreamAuth covers 401/403 from the catalog API (bearer or anti-bot
	// rejection); the holder of the session must rotate.
	ErrUpstreamAuth      = errors.New("upstream auth rejected")
	ErrUpstreamRateLimit = errors.New("upstream rate limited")
	ErrUpstreamTransport = errors.New("upstream transport error")
	// ErrTokenAcquisition means the landing page did not yield the access
	// token cookie; session construction failed.
	ErrTokenAcquisition = errors.New("token acquisition failed")
	ErrProxyUnhealthy   = errors.New("proxy unhealthy")
	ErrInternal         = errors.New("internal error")
)

// Query is a saved search. URL is unique after canonicalization
// (order=newest_first forced; time, search_id, disabled_personalization and
// page stripped).
type Query struct {
	ID       int64
	URL      string
	Name     string
	ThreadID *int64
	// LastItemTS is the watermark: the latest upstream publication timestamp
	// observed for this query. Zero means nothing observed yet.
	LastItemTS int64
	Priority   bool
}

// Item is a discovered listing. ID is upstream-assigned and globally unique;
// an item belongs to the query under which it was first observed.
type Item struct {
	ID         string
	Title      string
	Price      string // fixed-point with two fractional digits, e.g. "12.50"
	Currency   string // ISO 4217
	URL        string
	PhotoURL   string
	BrandTitle string
	SizeTitle  string
	// PublishedTS is the upstream publication time (unix seconds).
	PublishedTS int64
	// FoundTS is the local wall clock at first observation, set at
	// persistence time (unix seconds).
	FoundTS int64
	QueryID int64
}

// ScanBatch is what a query worker emits on the items channel.
type ScanBatch struct {
	Items   []Item
	QueryID int64
}

// Notification is the tuple handed to the Telegram sender.
type Notification struct {
	Text       string
	URL        string
	ButtonText string
	ThreadID   *int64
	PhotoURL   string
}

// OutcomeKind discriminates the catalog client's result variants.
type OutcomeKind int

const (
	// OutcomeItems: HTTP 200 with a parsed items array.
	OutcomeItems OutcomeKind = iota
	// OutcomeHTTPError: a meaningful non-2xx status (401/403/429/...).
	OutcomeHTTPError
	// OutcomeTransport: the request never produced a usable response.
	OutcomeTransport
)

// Outcome is the classified result of one catalog call.
type Outcome struct {
	Kind   OutcomeKind
	Items  []Item
	Status int
	Body   string
	Cause  error
}

// AuthRejected reports whether the outcome is a 401/403 requiring rotation.
func (o Outcome) AuthRejected() bool {
	return o.Kind == OutcomeHTTPError && (o.Status == 401 || o.Status == 403)
}

// RateLimited reports whether the outcome is an upstream 429.
func (o Outcome) RateLimited() bool {
	return o.Kind == OutcomeHTTPError && o.Status == 429
}

// Recognized parameter keys. Values are stored as strings; interpretation is
// per consumer. Sensitive keys may be overridden by environment.
const (
	ParamQueryRefreshDelay  = "query_refresh_delay"
	ParamItemsPerQuery      = "items_per_query"
	ParamProxyList          = "proxy_list"
	ParamProxyListLink      = "proxy_list_link"
	ParamCheckProxies       = "check_proxies"
	ParamProxyRotationInt   = "proxy_rotation_interval"
	ParamTelegramToken      = "telegram_token"
	ParamTelegramChatID     = "telegram_chat_id"
	ParamTelegramEnabled    = "telegram_enabled"
	ParamVersion            = "version"
	ParamBotStartTime       = "bot_start_time"
	ParamAPIRequests        = "vinted_api_requests"
	ParamRedeployThresholdM = "redeploy_threshold_minutes"
	ParamMaxHTTPErrors      = "max_http_errors"
	ParamLastRedeployTime   = "last_redeploy_time"
	ParamLastProxyCheckTime = "last_proxy_check_time"
)

// Repositories (ports)

// QueryRepository persists saved searches.
type QueryRepository interface {
	Create(ctx context.Context, q Query) (int64, error)
	Get(ctx context.Context, id int64) (Query, error)
	GetByURL(ctx context.Context, url string) (Query, error)
	List(ctx context.Context) ([]Query, error)
	Update(ctx context.Context, q Query) error
	UpdateThreadID(ctx context.Context, id int64, threadID *int64) error
	// UpdateWatermark raises last_item to ts; it never lowers it.
	UpdateWatermark(ctx context.Context, id int64, ts int64) error
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
}

// ItemRepository persists discovered listings.
type ItemRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
	// Insert fails with ErrConflict when the item id already exists.
	Insert(ctx context.Context, it Item) error
	Count(ctx context.Context) (int64, error)
	// PruneOldest deletes the oldest rows until at most keep remain,
	// returning the number deleted.
	PruneOldest(ctx context.Context, keep int) (int64, error)
	List(ctx context.Context, queryURL string, limit int) ([]Item, error)
	LastFound(ctx context.Context) (Item, error)
	DeleteAll(ctx context.Context) error
	PerDay(ctx context.Context) (float64, error)
}

// ParameterRepository is the key/value configuration table.
type ParameterRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Increment(ctx context.Context, key string) (int64, error)
	All(ctx context.Context) (map[string]string, error)
}

// AllowlistRepository is the set of permitted seller countries; an empty set
// means all countries are allowed.
type AllowlistRepository interface {
	Add(ctx context.Context, country string) error
	Remove(ctx context.Context, country string) error
	List(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// Store aggregates the repositories behind one injected dependency.
type Store interface {
	Queries() QueryRepository
	Items() ItemRepository
	Parameters() ParameterRepository
	Allowlist() AllowlistRepository
}

// GetParamInt reads an integer parameter, falling back to def when the key is
// missing or malformed.
func GetParamInt(ctx context.Context, p ParameterRepository, key string, def int) int {
	v, err := p.Get(ctx, key)
	if err != nil || v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Clock abstracts time for the governor and ingestion tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
