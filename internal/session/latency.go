package session

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/telemetry"
	"github.com/cory-johannsen/lobby/internal/transport"
)

// LatencySampler polls the transport's round-trip time while the connection
// is up. It only reads from the transport and never touches coordinator
// state, so it runs on its own goroutine.
type LatencySampler struct {
	clock     clock.Clock
	interval  time.Duration
	transport transport.Transport
	bus       *Bus
	recorder  telemetry.Recorder
	sessionID uuid.UUID
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLatencySampler creates a stopped sampler.
//
// Precondition: interval > 0; all other arguments non-nil.
func NewLatencySampler(clk clock.Clock, interval time.Duration, t transport.Transport, bus *Bus, rec telemetry.Recorder, sessionID uuid.UUID, logger *zap.Logger) *LatencySampler {
	if interval <= 0 {
		panic("session.NewLatencySampler: interval must be > 0")
	}
	return &LatencySampler{
		clock:     clk,
		interval:  interval,
		transport: t,
		bus:       bus,
		recorder:  rec,
		sessionID: sessionID,
		logger:    logger,
	}
}

// Start launches the polling goroutine for region. It samples immediately,
// then once per interval, and exits on its own when the transport reports
// it is no longer connected. Starting a running sampler is a no-op.
func (s *LatencySampler) Start(ctx context.Context, region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(ctx, region, done)
}

// Stop cancels the polling goroutine without waiting for it to exit, so it
// is safe to call from the session loop. Calling Stop on a stopped sampler
// is harmless.
func (s *LatencySampler) Stop() {
	s.halt()
}

// Shutdown cancels the polling goroutine and waits for it to exit.
//
// Precondition: must not be called from the session loop.
func (s *LatencySampler) Shutdown() {
	if done := s.halt(); done != nil {
		<-done
	}
}

func (s *LatencySampler) halt() <-chan struct{} {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return done
}

// Running reports whether the polling goroutine is active.
func (s *LatencySampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

func (s *LatencySampler) run(ctx context.Context, region string, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.cancel()
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("latency sampler started",
		zap.String("region", region),
		zap.Duration("interval", s.interval),
	)
	for {
		if !s.sample(ctx, region) {
			s.logger.Debug("latency sampler exiting, transport disconnected")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sample takes one reading. It returns false once the transport is down.
func (s *LatencySampler) sample(ctx context.Context, region string) bool {
	if !s.transport.IsConnected() {
		return false
	}
	ms := s.transport.Latency()
	at := s.clock.Now()

	s.logger.Debug("latency", zap.String("region", region), zap.Int("ping_ms", ms))
	Publish(s.bus, LatencySampled{Region: region, Millis: ms, At: at})

	err := s.recorder.RecordLatency(ctx, telemetry.LatencyRecord{
		SessionID: s.sessionID,
		Region:    region,
		Millis:    ms,
		At:        at,
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("recording latency sample", zap.Error(err))
	}
	return true
}
