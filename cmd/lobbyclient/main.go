// Package main provides the interactive lobby client: a session driven by the
// simulated transport and operated from a line console on stdin.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/observability"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	noColor := flag.Bool("no-color", false, "disable ANSI colors on the console")
	discover := flag.Bool("discover", true, "start region discovery on launch")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	a, cleanup, err := initializeApp(ctx, cfg, logger, os.Stdin, os.Stdout, colorOutput(!*noColor))
	if err != nil {
		logger.Fatal("initializing lobby client", zap.Error(err))
	}
	defer cleanup()

	logger.Info("lobby client ready",
		zap.String("session_id", a.session.ID().String()),
		zap.String("telemetry", cfg.Telemetry.Sink),
		zap.Duration("startup", time.Since(start)),
	)

	if *discover {
		// Queued until the session loop starts under the lifecycle.
		go func() {
			dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := a.session.StartDiscovery(dctx); err != nil {
				logger.Warn("starting discovery", zap.Error(err))
			}
		}()
	}

	if err := a.lifecycle.Run(ctx); err != nil {
		logger.Error("lobby client stopped with errors", zap.Error(err))
		cleanup()
		_ = logger.Sync()
		os.Exit(1)
	}
}
