// Package server runs the long-lived components of the lobby client and
// shuts them down together on a signal, a failure, or a component exiting.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start runs the service. It blocks until the service is stopped, fails,
	// or finishes on its own.
	Start() error
	// Stop asks the service to return from Start.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// DefaultStopTimeout bounds how long Run waits for services to return after
// they have been stopped.
const DefaultStopTimeout = 10 * time.Second

// Lifecycle manages the startup and shutdown of multiple services.
// Services are started in order and stopped in reverse order. The first
// service to return from Start, with or without an error, shuts down the
// rest.
type Lifecycle struct {
	logger      *zap.Logger
	stopTimeout time.Duration
	signals     []os.Signal

	mu       sync.Mutex
	services []namedService
}

type namedService struct {
	name    string
	service Service
}

type exit struct {
	name string
	err  error
}

// NewLifecycle creates a Lifecycle that reacts to SIGINT and SIGTERM.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		logger:      logger,
		stopTimeout: DefaultStopTimeout,
		signals:     []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// SetStopTimeout overrides DefaultStopTimeout.
//
// Precondition: d > 0.
func (l *Lifecycle) SetStopTimeout(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimeout = d
}

// Add registers a named service for lifecycle management.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts all services and blocks until a termination signal arrives,
// ctx ends, or any service returns. Services are then stopped in reverse
// order.
//
// Postcondition: All services have been stopped. The returned error combines
// every service failure; a clean exit returns nil.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()
	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	stopTimeout := l.stopTimeout
	l.mu.Unlock()

	exits := make(chan exit, len(services))
	for _, ns := range services {
		go func() {
			l.logger.Info("starting service", zap.String("service", ns.name))
			svcStart := time.Now()
			err := ns.service.Start()
			if err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				err = fmt.Errorf("service %s: %w", ns.name, err)
			}
			exits <- exit{name: ns.name, err: err}
		}()
	}
	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, l.signals...)
	defer signal.Stop(sigCh)

	var errs error
	pending := len(services)
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case ex := <-exits:
		pending--
		errs = multierr.Append(errs, ex.err)
		l.logger.Info("service exited, shutting down", zap.String("service", ex.name))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	l.shutdown(services)

	timeout := time.After(stopTimeout)
wait:
	for pending > 0 {
		select {
		case ex := <-exits:
			pending--
			errs = multierr.Append(errs, ex.err)
		case <-timeout:
			l.logger.Warn("services did not return before the stop timeout", zap.Int("pending", pending))
			errs = multierr.Append(errs, fmt.Errorf("%d service(s) still running after %s", pending, stopTimeout))
			break wait
		}
	}

	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return errs
}

func (l *Lifecycle) shutdown(services []namedService) {
	shutdownStart := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		svcStart := time.Now()
		l.logger.Info("stopping service", zap.String("service", ns.name))
		ns.service.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	l.logger.Info("all services stopped", zap.Duration("shutdown_elapsed", time.Since(shutdownStart)))
}
