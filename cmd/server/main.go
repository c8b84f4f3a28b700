// Command server runs the marketplace monitor: the worker fleet, the
// ingestion pipeline, the Telegram notifier and the web admin surface in one
// process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/vinted-notifier/internal/adapter/httpserver"
	"github.com/fairyhunter13/vinted-notifier/internal/adapter/observability"
	"github.com/fairyhunter13/vinted-notifier/internal/adapter/repo/memstore"
	"github.com/fairyhunter13/vinted-notifier/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/vinted-notifier/internal/adapter/telegram"
	"github.com/fairyhunter13/vinted-notifier/internal/adapter/vinted"
	"github.com/fairyhunter13/vinted-notifier/internal/app"
	"github.com/fairyhunter13/vinted-notifier/internal/config"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
	"github.com/fairyhunter13/vinted-notifier/internal/service/governor"
	"github.com/fairyhunter13/vinted-notifier/internal/service/proxypool"
	"github.com/fairyhunter13/vinted-notifier/internal/service/tokenpool"
	"github.com/fairyhunter13/vinted-notifier/internal/usecase"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logRing := observability.NewLogRing(2000, slog.LevelInfo)
	logger := observability.SetupLogger(cfg, logRing)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store: Postgres when configured, embedded in-memory store otherwise.
	var store domain.Store
	var dbPinger app.Pinger
	if cfg.UsesPostgres() {
		pool, perr := postgres.NewPool(ctx, cfg.DatabaseURL)
		if perr != nil {
			slog.Error("db connect failed", slog.Any("error", perr))
			os.Exit(1)
		}
		defer pool.Close()
		if merr := postgres.Migrate(ctx, pool); merr != nil {
			slog.Error("db migrate failed", slog.Any("error", merr))
			os.Exit(1)
		}
		store = postgres.NewStore(pool)
		dbPinger = pool
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store")
		store = memstore.New()
	}

	// Optional redis hot cache for the seen-item check.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, rerr := redis.ParseURL(cfg.RedisURL)
		if rerr != nil {
			slog.Error("invalid REDIS_URL", slog.Any("error", rerr))
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	}

	// Catalog client; every upstream call bumps the per-boot request counter.
	catalog := vinted.New(func(ctx context.Context) {
		if _, err := store.Parameters().Increment(ctx, domain.ParamAPIRequests); err != nil {
			slog.Debug("api request counter increment failed", slog.Any("error", err))
		}
	})

	proxies := proxypool.New(store.Parameters(), proxypool.Options{
		CheckTimeout:    cfg.ProxyCheckTimeout,
		CheckWorkers:    cfg.ProxyCheckWorkers,
		RecheckInterval: cfg.ProxyRecheckInterval,
	})

	sessions := tokenpool.New(catalog, proxies, tokenpool.Options{
		MaxSize:        cfg.PoolMaxSize,
		PrewarmWorkers: cfg.PoolPrewarmWorkers,
		MaxErrors:      cfg.SessionMaxErrors,
		RotateScans:    cfg.SessionRotateScans,
		TokenTimeout:   cfg.TokenRequestTimeout,
		CatalogTimeout: cfg.CatalogTimeout,
	})

	restarter := governor.NewRailwayRestarter(
		cfg.RailwayToken, cfg.RailwayProjectID, cfg.RailwayServiceID, cfg.RailwayRedeployWebhook,
		cfg.AllowEmergencyExit, cfg.GovernorEmergencyDelay,
		cfg.RedeployCommandTimeout, cfg.RedeployRequestTimeout, os.Exit)
	gov := governor.New(store.Parameters(), domain.SystemClock{}, restarter, governor.Options{
		SilenceReset:   cfg.GovernorSilenceReset,
		SuccessStreak:  cfg.GovernorSuccessStreak,
		CriticalErrors: cfg.GovernorCriticalErrors,
		MinInterval:    cfg.GovernorMinInterval,
	})

	admin := usecase.NewAdmin(store)
	stats := usecase.NewWorkerStats()

	if cfg.QuerySeedFile != "" {
		if err := seedQueries(ctx, admin, store, cfg.QuerySeedFile); err != nil {
			slog.Error("query seeding failed", slog.String("file", cfg.QuerySeedFile), slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Telegram credentials: environment wins, parameters table is the fallback.
	botToken := cfg.TelegramBotToken
	if botToken == "" {
		botToken, _ = store.Parameters().Get(ctx, domain.ParamTelegramToken)
	}
	chatID := cfg.TelegramChatID
	if chatID == "" {
		chatID, _ = store.Parameters().Get(ctx, domain.ParamTelegramChatID)
	}

	notify := make(chan domain.Notification, 256)
	sender := telegram.NewSender(botToken, chatID, "", store.Parameters(), notify)
	poller := telegram.NewPoller(sender, admin, cfg.PublicURL)

	orchestrator := app.NewOrchestrator(cfg, app.Deps{
		Store:    store,
		Sessions: sessions,
		Proxies:  proxies,
		Catalog:  catalog,
		Fleet:    gov,
		Stats:    stats,
		Seen:     rdb,
		Version:  version,
	}, notify)

	srv := httpserver.New(cfg, store, admin, stats, gov, proxies, sessions, sender, logRing)
	handler := app.BuildRouter(cfg, srv, app.BuildReadinessChecks(dbPinger, rdb))

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go sender.Run(ctx)
	go poller.Run(ctx)

	fleetDone := make(chan error, 1)
	go func() { fleetDone <- orchestrator.Run(ctx) }()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting",
			slog.Int("port", cfg.Port),
			slog.String("version", version),
			slog.Bool("postgres", cfg.UsesPostgres()),
			slog.Bool("redis", rdb != nil))
		errCh <- srvHTTP.ListenAndServe()
	}()

	fleetStopped := false
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	case err := <-fleetDone:
		fleetStopped = true
		if err != nil {
			slog.Error("orchestrator failed", slog.Any("error", err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	if !fleetStopped {
		select {
		case <-fleetDone:
		case <-shutdownCtx.Done():
			slog.Warn("worker fleet did not stop before the shutdown deadline")
		}
	}
}
