package httpserver

import (
	"context"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/observability"
	"github.com/fairyhunter13/vinted-notifier/internal/config"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
	"github.com/fairyhunter13/vinted-notifier/internal/service/governor"
	"github.com/fairyhunter13/vinted-notifier/internal/service/proxypool"
	"github.com/fairyhunter13/vinted-notifier/internal/service/tokenpool"
	"github.com/fairyhunter13/vinted-notifier/internal/usecase"
)

// Fleet exposes the worker statistics consumed by the dashboard.
type Fleet interface {
	Snapshot() usecase.StatsSnapshot
	ActiveWorkers() int
}

// RestartController is the governor slice the admin surface needs.
type RestartController interface {
	Status(ctx context.Context) governor.Status
	ForceRestart(ctx context.Context)
}

// ProxyReporter snapshots the proxy cache.
type ProxyReporter interface {
	Stats(ctx context.Context) proxypool.Statistics
}

// SessionReporter snapshots the token session slots.
type SessionReporter interface {
	Stats() []tokenpool.SessionStat
}

// NotifierControl toggles Telegram delivery at runtime.
type NotifierControl interface {
	Enabled(ctx context.Context) bool
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Server wires the admin handlers to their dependencies.
type Server struct {
	cfg      config.Config
	store    domain.Store
	admin    *usecase.Admin
	fleet    Fleet
	restarts RestartController
	proxies  ProxyReporter
	sessions SessionReporter
	notifier NotifierControl
	logs     *observability.LogRing
}

// New constructs the admin surface server.
func New(cfg config.Config, store domain.Store, admin *usecase.Admin, fleet Fleet,
	restarts RestartController, proxies ProxyReporter, sessions SessionReporter,
	notifier NotifierControl, logs *observability.LogRing) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		admin:    admin,
		fleet:    fleet,
		restarts: restarts,
		proxies:  proxies,
		sessions: sessions,
		notifier: notifier,
		logs:     logs,
	}
}

// Register mounts every admin route on the router. Callers apply the shared
// middleware stack before mounting.
func (s *Server) Register(r chi.Router) {
	guard := NewBasicAuth(s.cfg)
	r.Group(func(r chi.Router) {
		r.Use(guard.Middleware)

		r.Get("/", s.handleDashboard)
		r.Get("/queries", s.handleListQueries)
		r.Post("/add_query", s.handleAddQuery)
		r.Post("/remove_query/all", s.handleRemoveAllQueries)
		r.Post("/remove_query/{id}", s.handleRemoveQuery)
		r.Post("/edit_query/{id}", s.handleEditQuery)
		r.Post("/update_thread_id", s.handleUpdateThreadID)
		r.Post("/clear_all_items", s.handleClearAllItems)
		r.Get("/items", s.handleItems)

		r.Get("/config", s.handleGetConfig)
		r.Post("/update_config", s.handleUpdateConfig)

		r.Post("/control/telegram/{action}", s.handleTelegramControl)
		r.Get("/control/status", s.handleControlStatus)

		r.Get("/allowlist", s.handleAllowlist)
		r.Post("/add_country", s.handleAddCountry)
		r.Post("/remove_country", s.handleRemoveCountry)
		r.Post("/clear_allowlist", s.handleClearAllowlist)

		r.Get("/logs", s.handleLogs)
		r.Get("/api/logs", s.handleAPILogs)

		r.Get("/redeploy_status", s.handleRedeployStatus)
		r.Get("/proxy_status", s.handleProxyStatus)
		r.Post("/force_redeploy", s.handleForceRedeploy)
	})
}
