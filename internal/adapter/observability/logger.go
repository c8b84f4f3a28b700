// Package observability provides logging, metrics, and tracing.
package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/vinted-notifier/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
// When extra handlers are given (e.g. the admin log ring), records fan out to
// all of them.
func SetupLogger(cfg config.Config, extra ...slog.Handler) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; in prod, default to info
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if len(extra) > 0 {
		h = NewFanoutHandler(append([]slog.Handler{h}, extra...)...)
	}
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}
