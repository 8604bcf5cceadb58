// Package session implements the client side of a multiplayer session
// handshake: region discovery and selection, the master-server connection,
// lobby entry, the lobby room list, room creation and joining, and the
// scene hand-off once inside a room.
//
// A Session serializes every transport callback and caller action onto one
// event loop. The coordinators it owns are therefore lock-free; other
// goroutines observe them only through published events and snapshots.
package session

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/telemetry"
	"github.com/cory-johannsen/lobby/internal/transport"
)

// telemetryTimeout bounds each telemetry write made from the loop.
const telemetryTimeout = 2 * time.Second

// Session is the top-level session context. It owns the event bus, the
// connection and lobby coordinators, the event loop, and the latency
// sampler, and implements transport.Callbacks.
type Session struct {
	id       uuid.UUID
	logger   *zap.Logger
	bus      *Bus
	loop     *Loop
	conn     *ConnectionCoordinator
	lobby    *LobbyCoordinator
	sampler  *LatencySampler
	recorder telemetry.Recorder
	clock    clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error
}

// New constructs a Session around t. The caller must route t's callbacks to
// the returned Session and run Start on its own goroutine.
//
// Precondition: t, rec, clk, and logger must be non-nil; cfg must be valid.
// Postcondition: Returns a Session in StateIdle with no subscribers other
// than its own telemetry hooks.
func New(t transport.Transport, cfg config.SessionConfig, rec telemetry.Recorder, clk clock.Clock, logger *zap.Logger) *Session {
	id := uuid.New()
	logger = logger.With(zap.String("session_id", id.String()))
	bus := NewBus(logger.Named("bus"))
	conn := NewConnectionCoordinator(t, bus, logger.Named("connection"))
	settings := RoomSettings{
		Capacity:    cfg.RoomCapacity,
		Visible:     cfg.RoomVisible,
		Open:        cfg.RoomOpen,
		ExpiryGrace: cfg.ExpiryGrace,
		GameScene:   cfg.GameScene,
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:       id,
		logger:   logger,
		bus:      bus,
		loop:     NewLoop(logger.Named("loop")),
		conn:     conn,
		lobby:    NewLobbyCoordinator(t, conn, bus, settings, logger.Named("lobby")),
		sampler:  NewLatencySampler(clk, cfg.LatencyInterval, t, bus, rec, id, logger.Named("latency")),
		recorder: rec,
		clock:    clk,
		ctx:      ctx,
		cancel:   cancel,
	}
	Subscribe(bus, s.recordDisconnect)
	Subscribe(bus, s.recordRoomFailure)
	return s
}

// ID returns the session identifier used to correlate logs and telemetry.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Bus returns the event bus consumers subscribe to.
func (s *Session) Bus() *Bus {
	return s.bus
}

// AddCloser registers c to be closed by Close, after the loop has stopped.
func (s *Session) AddCloser(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, c)
}

// Start runs the event loop until Stop or Close is called.
func (s *Session) Start() error {
	s.logger.Info("session loop running")
	return s.loop.Start()
}

// Stop halts the event loop. Use Close for a full teardown.
func (s *Session) Stop() {
	s.loop.Stop()
}

// Close tears the session down: the loop stops, the sampler exits, every
// subscription is dropped, and registered closers are closed in reverse
// order. Close is idempotent and returns the same error every time.
//
// Precondition: must not be called from the session loop.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.loop.Stop()
		s.sampler.Shutdown()
		s.bus.Reset()

		s.mu.Lock()
		closers := s.closers
		s.closers = nil
		s.mu.Unlock()

		var err error
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i].Close())
		}
		s.closeErr = err
		s.logger.Info("session closed", zap.Error(err))
	})
	return s.closeErr
}

// StartDiscovery begins name-server discovery. See
// ConnectionCoordinator.StartDiscovery.
func (s *Session) StartDiscovery(ctx context.Context) error {
	return s.do(ctx, s.conn.StartDiscovery)
}

// SelectRegion connects to the master server of the region code. Any lobby
// membership from a previous master connection is discarded.
func (s *Session) SelectRegion(ctx context.Context, code string) error {
	return s.do(ctx, func() error {
		err := s.conn.SelectRegion(code)
		if errors.Is(err, ErrBlankRegion) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrUnknownRegion) {
			return err
		}
		// The previous connection is gone whether or not the new one was issued.
		s.sampler.Stop()
		s.lobby.Invalidate()
		return err
	})
}

// JoinLobby requests lobby entry. It normally happens automatically after a
// consented master connection; calling it again is harmless.
func (s *Session) JoinLobby(ctx context.Context) error {
	return s.do(ctx, s.lobby.JoinLobby)
}

// CreateRoom requests a room with the configured settings.
func (s *Session) CreateRoom(ctx context.Context, name string) error {
	return s.do(ctx, func() error { return s.lobby.CreateRoom(name) })
}

// JoinRoom requests to join an existing room.
func (s *Session) JoinRoom(ctx context.Context, name string) error {
	return s.do(ctx, func() error { return s.lobby.JoinRoom(name) })
}

// State returns the current connection state.
func (s *Session) State(ctx context.Context) (ConnectionState, error) {
	var st ConnectionState
	err := s.loop.Call(ctx, func() { st = s.conn.State() })
	return st, err
}

// Regions returns the latest region catalog contents.
func (s *Session) Regions(ctx context.Context) ([]transport.Region, error) {
	var regions []transport.Region
	err := s.loop.Call(ctx, func() { regions = s.conn.Catalog().Regions() })
	return regions, err
}

// BestRegion returns the lowest-latency region of the latest catalog.
//
// Postcondition: ok is false when no regions are known.
func (s *Session) BestRegion(ctx context.Context) (region transport.Region, ok bool, err error) {
	err = s.loop.Call(ctx, func() { region, ok = s.conn.Catalog().Best() })
	return region, ok, err
}

// Rooms returns a snapshot of the lobby room cache.
func (s *Session) Rooms(ctx context.Context) (RoomSnapshot, error) {
	var snap RoomSnapshot
	err := s.loop.Call(ctx, func() { snap = s.lobby.Rooms() })
	return snap, err
}

// CurrentRoom returns the joined room and this node's role in it.
func (s *Session) CurrentRoom(ctx context.Context) (room string, role Role, ok bool, err error) {
	err = s.loop.Call(ctx, func() { room, role, ok = s.lobby.CurrentRoom() })
	return room, role, ok, err
}

// OnRegionListReceived implements transport.Callbacks.
func (s *Session) OnRegionListReceived(regions []transport.Region) {
	regions = slices.Clone(regions)
	s.post("region_list_received", func() { s.conn.OnRegionListReceived(regions) })
}

// OnConnectedToMaster implements transport.Callbacks. A consented connection
// starts latency sampling and enters the lobby.
func (s *Session) OnConnectedToMaster() {
	s.post("connected_to_master", func() {
		if !s.conn.OnConnectedToMaster() {
			return
		}
		s.sampler.Start(s.ctx, s.conn.PinnedRegion())
		if err := s.lobby.JoinLobby(); err != nil {
			s.logger.Warn("automatic lobby join failed", zap.Error(err))
		}
	})
}

// OnDisconnected implements transport.Callbacks. Pending joins and the lobby
// listing are invalidated and sampling stops.
func (s *Session) OnDisconnected(cause transport.DisconnectCause) {
	s.post("disconnected", func() {
		if !s.conn.OnDisconnected(cause) {
			return
		}
		s.sampler.Stop()
		s.lobby.Invalidate()
	})
}

// OnJoinedLobby implements transport.Callbacks.
func (s *Session) OnJoinedLobby() {
	s.post("joined_lobby", s.lobby.OnJoinedLobby)
}

// OnRoomListUpdate implements transport.Callbacks.
func (s *Session) OnRoomListUpdate(batch []transport.RoomSummary) {
	batch = slices.Clone(batch)
	s.post("room_list_update", func() { s.lobby.OnRoomListUpdate(batch) })
}

// OnJoinedRoom implements transport.Callbacks.
func (s *Session) OnJoinedRoom(room string) {
	s.post("joined_room", func() { s.lobby.OnJoinedRoom(room) })
}

// OnCreateRoomFailed implements transport.Callbacks.
func (s *Session) OnCreateRoomFailed(code int16, message string) {
	s.post("create_room_failed", func() { s.lobby.OnCreateRoomFailed(code, message) })
}

// OnJoinRoomFailed implements transport.Callbacks.
func (s *Session) OnJoinRoomFailed(code int16, message string) {
	s.post("join_room_failed", func() { s.lobby.OnJoinRoomFailed(code, message) })
}

func (s *Session) post(callback string, fn func()) {
	if !s.loop.Post(fn) {
		s.logger.Debug("dropping callback after session close", zap.String("callback", callback))
	}
}

func (s *Session) do(ctx context.Context, fn func() error) error {
	var err error
	if callErr := s.loop.Call(ctx, func() { err = fn() }); callErr != nil {
		return callErr
	}
	return err
}

// recordDisconnect and recordRoomFailure run on the loop, where the
// coordinators publish.
func (s *Session) recordDisconnect(ev Disconnected) {
	ctx, cancel := context.WithTimeout(s.ctx, telemetryTimeout)
	defer cancel()
	err := s.recorder.RecordDisconnect(ctx, telemetry.DisconnectRecord{
		SessionID: s.id,
		Region:    s.conn.PinnedRegion(),
		Cause:     ev.Cause.String(),
		Code:      int(ev.Cause),
		At:        s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("recording disconnect", zap.Error(err))
	}
}

func (s *Session) recordRoomFailure(ev RoomOperationFailed) {
	ctx, cancel := context.WithTimeout(s.ctx, telemetryTimeout)
	defer cancel()
	err := s.recorder.RecordRoomFailure(ctx, telemetry.RoomFailureRecord{
		SessionID: s.id,
		Region:    s.conn.PinnedRegion(),
		Op:        string(ev.Op),
		Code:      ev.Code,
		Message:   ev.Message,
		At:        s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("recording room failure", zap.Error(err))
	}
}
