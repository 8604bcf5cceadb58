//go:build wireinject

package main

import (
	"context"
	"io"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/console"
	"github.com/cory-johannsen/lobby/internal/session"
)

var appSet = wire.NewSet(
	wire.FieldsOf(new(config.Config), "Session", "Transport", "Telemetry", "Database"),
	provideClock,
	provideTelemetry,
	wire.FieldsOf(new(*telemetrySink), "Recorder", "Stats"),
	provideTransport,
	provideSession,
	wire.Bind(new(console.Session), new(*session.Session)),
	provideConsole,
	provideLifecycle,
	newApp,
)

func initializeApp(ctx context.Context, cfg config.Config, logger *zap.Logger, in io.Reader, out io.Writer, color colorOutput) (*app, func(), error) {
	wire.Build(appSet)
	return nil, nil, nil
}
