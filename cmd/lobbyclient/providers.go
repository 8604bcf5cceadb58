package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/console"
	"github.com/cory-johannsen/lobby/internal/observability"
	"github.com/cory-johannsen/lobby/internal/server"
	"github.com/cory-johannsen/lobby/internal/session"
	"github.com/cory-johannsen/lobby/internal/storage/postgres"
	"github.com/cory-johannsen/lobby/internal/telemetry"
	"github.com/cory-johannsen/lobby/internal/transport/sim"
)

// colorOutput enables ANSI styling on the console.
type colorOutput bool

// app is the assembled client.
type app struct {
	session   *session.Session
	lifecycle *server.Lifecycle
}

func provideClock() clock.Clock {
	return clock.New()
}

// telemetrySink is the configured recorder and, for durable sinks, the
// reader over what it recorded. Stats is nil otherwise.
type telemetrySink struct {
	Recorder telemetry.Recorder
	Stats    telemetry.Stats
}

// provideTelemetry selects the telemetry sink named by cfg.Sink. The postgres
// sink owns a connection pool, released by the returned cleanup.
func provideTelemetry(ctx context.Context, cfg config.TelemetryConfig, db config.DatabaseConfig, logger *zap.Logger) (*telemetrySink, func(), error) {
	switch cfg.Sink {
	case "none":
		return &telemetrySink{Recorder: telemetry.Nop{}}, func() {}, nil
	case "log":
		return &telemetrySink{Recorder: telemetry.NewLogRecorder(observability.Component(logger, "telemetry"))}, func() {}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, db, observability.Component(logger, "postgres"))
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Health(ctx, 5*time.Second); err != nil {
			_ = pool.Close()
			return nil, nil, err
		}
		cleanup := func() {
			if err := pool.Close(); err != nil {
				logger.Warn("closing database pool", zap.Error(err))
			}
		}
		repo := postgres.NewTelemetryRepository(pool.DB())
		return &telemetrySink{Recorder: repo, Stats: repo}, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown telemetry sink %q", cfg.Sink)
	}
}

// provideTransport loads the scenario and starts the simulated transport.
// The session closes it.
func provideTransport(cfg config.TransportConfig, clk clock.Clock, logger *zap.Logger) (*sim.Transport, error) {
	sc, err := sim.LoadScenarioFromFile(cfg.Scenario)
	if err != nil {
		return nil, fmt.Errorf("loading scenario: %w", err)
	}
	logger.Info("scenario loaded",
		zap.String("path", cfg.Scenario),
		zap.Int("regions", len(sc.Regions)),
		zap.Bool("auto_connect_master", sc.AutoConnectMaster),
	)
	return sim.New(sc, cfg.CallbackDelay, clk, observability.Component(logger, "sim")), nil
}

// provideSession builds the session and routes the transport's callbacks to it.
//
// Postcondition: the returned cleanup closes the session and the transport.
func provideSession(tr *sim.Transport, cfg config.SessionConfig, rec telemetry.Recorder, clk clock.Clock, logger *zap.Logger) (*session.Session, func()) {
	s := session.New(tr, cfg, rec, clk, observability.Component(logger, "session"))
	tr.Bind(s)
	s.AddCloser(tr)
	cleanup := func() {
		if err := s.Close(); err != nil {
			logger.Warn("closing session", zap.Error(err))
		}
	}
	return s, cleanup
}

func provideConsole(s console.Session, stats telemetry.Stats, in io.Reader, out io.Writer, color colorOutput, logger *zap.Logger) *console.Console {
	c := console.New(s, console.DefaultRegistry(), in, out, bool(color), observability.Component(logger, "console"))
	if stats != nil {
		c.SetStats(stats)
	}
	return c
}

// provideLifecycle registers the session loop and the console. The console
// exiting on quit or end of input shuts the session down.
func provideLifecycle(s *session.Session, c *console.Console, logger *zap.Logger) *server.Lifecycle {
	lc := server.NewLifecycle(observability.Component(logger, "lifecycle"))
	lc.Add("session", s)
	lc.Add("console", c)
	return lc
}

func newApp(s *session.Session, lc *server.Lifecycle) *app {
	return &app{session: s, lifecycle: lc}
}
