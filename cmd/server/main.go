// Creditcore - dual credit wallet service for school platforms
package main

import (
	"context"
	"os"

	"github.com/schooltino/creditcore/internal/config"
	"github.com/schooltino/creditcore/internal/logging"
	"github.com/schooltino/creditcore/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting creditcore",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"low_balance_threshold", cfg.LowBalanceThreshold.String(),
		"record_free_usage", cfg.RecordFreeUsage,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
