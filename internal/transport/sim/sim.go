// Package sim provides an in-process transport that plays a YAML scenario.
// It stands in for a real networking layer in the lobbyclient binary and in
// tests: requests change the simulated world immediately, and the resulting
// callbacks are delivered later, in order, from a single goroutine.
package sim

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/transport"
)

var (
	// ErrClosed is returned by every request after Close.
	ErrClosed = errors.New("sim: transport closed")
	// ErrAlreadyConnected is returned by connect requests while a
	// connection is up.
	ErrAlreadyConnected = errors.New("sim: already connected")
	// ErrNotReady is returned by lobby and room requests made without a
	// master-server connection.
	ErrNotReady = errors.New("sim: not connected to a master server")
	// ErrNotInRoom is returned by LoadScene outside a room.
	ErrNotInRoom = errors.New("sim: not in a room")
)

// Failure messages paired with the transport's room failure codes.
const (
	msgGameDoesNotExist    = "Game does not exist"
	msgGameClosed          = "Game closed"
	msgGameFull            = "Game full"
	msgGameIDAlreadyExists = "A game with the specified id already exist."
)

type phase int

const (
	phaseOffline phase = iota
	phaseNameServer
	phaseMaster
)

// Transport is a simulated transport.Transport.
type Transport struct {
	logger *zap.Logger
	clock  clock.Clock
	delay  time.Duration

	mu        sync.Mutex
	world     *Scenario
	callbacks transport.Callbacks
	phase     phase
	region    string
	inLobby   bool
	room      string
	authority bool
	joining   bool
	scenes    []string
	closed    bool

	queue []func(transport.Callbacks)
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// New creates a Transport serving a private copy of sc and starts its
// delivery goroutine. Each callback is delivered delay after the previous
// one, measured on clk.
//
// Precondition: sc must be valid; clk and logger must be non-nil; delay >= 0.
// Postcondition: Callbacks are dropped until Bind is called.
func New(sc *Scenario, delay time.Duration, clk clock.Clock, logger *zap.Logger) *Transport {
	t := &Transport{
		logger: logger,
		clock:  clk,
		delay:  delay,
		world:  cloneScenario(sc),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.deliver()
	return t
}

// Bind sets the receiver of all subsequent callbacks.
func (t *Transport) Bind(cb transport.Callbacks) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = cb
}

// Close stops the delivery goroutine. Undelivered callbacks are discarded.
func (t *Transport) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.queue = nil
		t.mu.Unlock()
		close(t.quit)
		<-t.done
	})
	return nil
}

// ConnectWithoutFixedRegion connects to the name server and answers with the
// scenario's region list. With auto_connect_master set it then connects to
// the lowest-latency region on its own.
func (t *Transport) ConnectWithoutFixedRegion(autoSyncScene bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return err
	}
	if t.phase != phaseOffline {
		return ErrAlreadyConnected
	}

	t.phase = phaseNameServer
	regions := make([]transport.Region, 0, len(t.world.Regions))
	for _, r := range t.world.Regions {
		regions = append(regions, r.Region)
	}
	t.logger.Debug("sim: name server connected",
		zap.Bool("auto_sync_scene", autoSyncScene),
		zap.Int("regions", len(regions)),
	)
	t.enqueue(func(cb transport.Callbacks) { cb.OnRegionListReceived(regions) })

	if t.world.AutoConnectMaster && len(regions) > 0 {
		t.phase = phaseMaster
		t.region = bestRegion(regions)
		t.logger.Debug("sim: auto-connected to master", zap.String("region", t.region))
		t.enqueue(func(cb transport.Callbacks) { cb.OnConnectedToMaster() })
	}
	return nil
}

// ConnectToRegion connects to the master server of code. An unknown code is
// answered with a CauseInvalidRegion disconnect.
func (t *Transport) ConnectToRegion(code string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return err
	}
	if t.phase != phaseOffline {
		return ErrAlreadyConnected
	}

	if _, ok := t.world.Region(code); !ok {
		t.logger.Debug("sim: unknown region", zap.String("region", code))
		t.enqueue(func(cb transport.Callbacks) { cb.OnDisconnected(transport.CauseInvalidRegion) })
		return nil
	}
	t.phase = phaseMaster
	t.region = code
	t.enqueue(func(cb transport.Callbacks) { cb.OnConnectedToMaster() })
	return nil
}

// Disconnect closes the current connection. Disconnecting while offline is
// a no-op.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return err
	}
	if t.phase == phaseOffline {
		return nil
	}
	t.dropLocked(transport.CauseClientDisconnect)
	return nil
}

// Drop simulates the server ending the connection with cause.
func (t *Transport) Drop(cause transport.DisconnectCause) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.phase == phaseOffline {
		return
	}
	t.dropLocked(cause)
}

// JoinLobby enters the region's lobby, which answers with the full room
// list of the region.
func (t *Transport) JoinLobby() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ready(); err != nil {
		return err
	}

	t.inLobby = true
	t.room = ""
	t.authority = false
	rooms := t.roomsLocked()
	t.enqueue(func(cb transport.Callbacks) { cb.OnJoinedLobby() })
	if len(rooms) > 0 {
		t.enqueue(func(cb transport.Callbacks) { cb.OnRoomListUpdate(rooms) })
	}
	return nil
}

// CreateRoom creates name in the current region and joins it as the
// authority.
func (t *Transport) CreateRoom(name string, opts transport.RoomOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ready(); err != nil {
		return err
	}

	rw, _ := t.world.Region(t.region)
	if slices.ContainsFunc(rw.Rooms, func(r transport.RoomSummary) bool { return r.Name == name }) {
		t.fail(func(cb transport.Callbacks) {
			cb.OnCreateRoomFailed(transport.CodeGameIDAlreadyExists, msgGameIDAlreadyExists)
		})
		return nil
	}

	rw.Rooms = append(rw.Rooms, transport.RoomSummary{
		Name:        name,
		Visible:     opts.Visible,
		Open:        opts.Open,
		MaxPlayers:  opts.MaxOccupants,
		PlayerCount: 1,
	})
	t.enter(name, true)
	return nil
}

// JoinRoom joins an existing room of the current region. The first
// occupant of an empty room becomes its authority.
func (t *Transport) JoinRoom(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ready(); err != nil {
		return err
	}

	rw, _ := t.world.Region(t.region)
	i := slices.IndexFunc(rw.Rooms, func(r transport.RoomSummary) bool { return r.Name == name })
	var code int16
	var msg string
	switch {
	case i < 0:
		code, msg = transport.CodeGameDoesNotExist, msgGameDoesNotExist
	case !rw.Rooms[i].Open:
		code, msg = transport.CodeGameClosed, msgGameClosed
	case rw.Rooms[i].MaxPlayers > 0 && rw.Rooms[i].PlayerCount >= rw.Rooms[i].MaxPlayers:
		code, msg = transport.CodeGameFull, msgGameFull
	}
	if msg != "" {
		t.fail(func(cb transport.Callbacks) { cb.OnJoinRoomFailed(code, msg) })
		return nil
	}

	authority := rw.Rooms[i].PlayerCount == 0
	rw.Rooms[i].PlayerCount++
	t.enter(name, authority)
	return nil
}

// LoadScene records name as loaded in the current room.
func (t *Transport) LoadScene(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return err
	}
	if t.room == "" {
		return ErrNotInRoom
	}
	t.scenes = append(t.scenes, name)
	t.logger.Info("sim: scene loaded", zap.String("room", t.room), zap.String("scene", name))
	return nil
}

// UpdateRooms applies deltas to region's room list, as other players would,
// and forwards them to the lobby when this client is in it.
func (t *Transport) UpdateRooms(region string, deltas ...transport.RoomSummary) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return err
	}
	rw, ok := t.world.Region(region)
	if !ok {
		return fmt.Errorf("sim: unknown region %q", region)
	}
	for _, d := range deltas {
		i := slices.IndexFunc(rw.Rooms, func(r transport.RoomSummary) bool { return r.Name == d.Name })
		switch {
		case d.Removed && i >= 0:
			rw.Rooms = slices.Delete(rw.Rooms, i, i+1)
		case d.Removed:
		case i >= 0:
			rw.Rooms[i] = d
		default:
			rw.Rooms = append(rw.Rooms, d)
		}
	}
	if t.inLobby && t.region == region {
		batch := slices.Clone(deltas)
		t.enqueue(func(cb transport.Callbacks) { cb.OnRoomListUpdate(batch) })
	}
	return nil
}

// Scenes returns the scenes loaded so far, oldest first.
func (t *Transport) Scenes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.scenes)
}

// Region returns the region of the current master connection.
func (t *Transport) Region() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.region
}

// Latency returns the scenario latency of the connected region, or 0 when
// no master connection is up or the latency is unknown.
func (t *Transport) Latency() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase != phaseMaster {
		return 0
	}
	rw, ok := t.world.Region(t.region)
	if !ok || !rw.HasLatency() {
		return 0
	}
	return rw.Latency
}

func (t *Transport) IsJoining() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joining
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase != phaseOffline
}

func (t *Transport) IsAuthority() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authority
}

func (t *Transport) usable() error {
	if t.closed {
		return ErrClosed
	}
	return nil
}

func (t *Transport) ready() error {
	if err := t.usable(); err != nil {
		return err
	}
	if t.phase != phaseMaster {
		return ErrNotReady
	}
	return nil
}

// enter moves the client into room. IsJoining stays true until the joined
// callback is delivered.
func (t *Transport) enter(room string, authority bool) {
	t.inLobby = false
	t.room = room
	t.authority = authority
	t.joining = true
	t.enqueue(func(cb transport.Callbacks) {
		t.setJoining(false)
		cb.OnJoinedRoom(room)
	})
}

func (t *Transport) fail(deliver func(transport.Callbacks)) {
	t.joining = true
	t.enqueue(func(cb transport.Callbacks) {
		t.setJoining(false)
		deliver(cb)
	})
}

func (t *Transport) setJoining(v bool) {
	t.mu.Lock()
	t.joining = v
	t.mu.Unlock()
}

func (t *Transport) dropLocked(cause transport.DisconnectCause) {
	if t.room != "" {
		if rw, ok := t.world.Region(t.region); ok {
			if i := slices.IndexFunc(rw.Rooms, func(r transport.RoomSummary) bool { return r.Name == t.room }); i >= 0 && rw.Rooms[i].PlayerCount > 0 {
				rw.Rooms[i].PlayerCount--
			}
		}
	}
	t.phase = phaseOffline
	t.region = ""
	t.inLobby = false
	t.room = ""
	t.authority = false
	t.joining = false
	t.logger.Debug("sim: disconnected", zap.Stringer("cause", cause))
	t.enqueue(func(cb transport.Callbacks) { cb.OnDisconnected(cause) })
}

// roomsLocked returns a copy of the current region's rooms.
func (t *Transport) roomsLocked() []transport.RoomSummary {
	rw, ok := t.world.Region(t.region)
	if !ok {
		return nil
	}
	return slices.Clone(rw.Rooms)
}

// enqueue appends a callback. Callers hold t.mu.
func (t *Transport) enqueue(fn func(transport.Callbacks)) {
	t.queue = append(t.queue, fn)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Transport) pop() (func(transport.Callbacks), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return nil, false
	}
	fn := t.queue[0]
	t.queue = t.queue[1:]
	return fn, true
}

func (t *Transport) receiver() transport.Callbacks {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callbacks
}

func (t *Transport) deliver() {
	defer close(t.done)
	for {
		fn, ok := t.pop()
		if !ok {
			select {
			case <-t.wake:
				continue
			case <-t.quit:
				return
			}
		}
		if t.delay > 0 {
			timer := t.clock.Timer(t.delay)
			select {
			case <-timer.C:
			case <-t.quit:
				timer.Stop()
				return
			}
		}
		cb := t.receiver()
		if cb == nil {
			t.logger.Warn("sim: dropping callback, no receiver bound")
			continue
		}
		fn(cb)
	}
}

func bestRegion(regions []transport.Region) string {
	if len(regions) == 0 {
		return ""
	}
	best := regions[0]
	for _, r := range regions[1:] {
		if r.HasLatency() && (!best.HasLatency() || r.Latency < best.Latency) {
			best = r
		}
	}
	return best.Code
}

func cloneScenario(sc *Scenario) *Scenario {
	out := &Scenario{
		AutoConnectMaster: sc.AutoConnectMaster,
		Regions:           make([]RegionWorld, len(sc.Regions)),
	}
	for i, r := range sc.Regions {
		out.Regions[i] = RegionWorld{Region: r.Region, Rooms: slices.Clone(r.Rooms)}
	}
	return out
}
