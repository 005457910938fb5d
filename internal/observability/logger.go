// Package observability provides logging, metrics, and tracing.
package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/feedpulse/internal/config"
)

// SetupLogger installs the process-wide JSON logger. Dev gets debug
// level; every line carries the service and env fields so multi-process
// deployments stay distinguishable in aggregated logs.
func SetupLogger(cfg config.Config) {
	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	))
}
