package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/transport"
)

type sessionFixture struct {
	s     *Session
	ft    *fakeTransport
	rec   *memoryRecorder
	clock *clock.Mock
}

func sessionConfig() config.SessionConfig {
	return config.SessionConfig{
		RoomCapacity:    4,
		RoomVisible:     true,
		RoomOpen:        true,
		ExpiryGrace:     0,
		LatencyInterval: 3 * time.Second,
		GameScene:       "02_GameScene",
	}
}

// newSession builds an unstarted Session whose teardown waits for every
// goroutine it owns.
func newSession(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		ft:    newFakeTransport(),
		rec:   &memoryRecorder{},
		clock: clock.NewMock(),
	}
	f.s = New(f.ft, sessionConfig(), f.rec, f.clock, testLogger(t))
	return f
}

// startSession runs the loop of a new Session for the duration of the test.
func startSession(t *testing.T) *sessionFixture {
	t.Helper()
	f := newSession(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.s.Start()
	}()
	t.Cleanup(func() {
		_ = f.s.Close()
		<-done
	})
	return f
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (f *sessionFixture) state(t *testing.T) ConnectionState {
	t.Helper()
	st, err := f.s.State(ctxT(t))
	require.NoError(t, err)
	return st
}

// connectedTo drives the session through discovery and selection of code
// up to an accepted master connection.
func (f *sessionFixture) connectedTo(t *testing.T, code string) {
	t.Helper()
	ctx := ctxT(t)
	require.NoError(t, f.s.StartDiscovery(ctx))
	f.ft.set(func(ft *fakeTransport) { ft.connected = true })
	f.s.OnRegionListReceived(regions("eu", 90, "us", 40))
	require.NoError(t, f.s.SelectRegion(ctx, code))
	f.s.OnDisconnected(transport.CauseClientDisconnect)
	f.s.OnConnectedToMaster()
	require.Equal(t, StateConnectedToMaster, f.state(t))
}

func TestSession_New(t *testing.T) {
	f := newSession(t)
	t.Cleanup(func() { _ = f.s.Close() })

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", f.s.ID().String())
	assert.Equal(t, 2, f.s.Bus().SubscriberCount(), "only the telemetry hooks")
}

func TestSession_FullHandshake(t *testing.T) {
	f := startSession(t)
	ctx := ctxT(t)
	bus := f.s.Bus()
	samples := record[LatencySampled](bus)
	joined := record[JoinedGameRoom](bus)

	require.NoError(t, f.s.StartDiscovery(ctx))
	assert.Equal(t, StateDiscoveringRegions, f.state(t))

	f.ft.set(func(ft *fakeTransport) { ft.connected = true })
	f.s.OnRegionListReceived(regions("eu", 90, "us", 40))
	assert.Equal(t, StateAwaitingRegionChoice, f.state(t))

	rs, err := f.s.Regions(ctx)
	require.NoError(t, err)
	assert.Len(t, rs, 2)
	best, ok, err := f.s.BestRegion(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "us", best.Code)

	require.NoError(t, f.s.SelectRegion(ctx, "eu"))
	assert.Equal(t, StateConnectingToRegion, f.state(t))

	f.s.OnDisconnected(transport.CauseClientDisconnect)
	assert.Equal(t, StateConnectingToRegion, f.state(t), "hand-off disconnect is absorbed")

	f.ft.set(func(ft *fakeTransport) { ft.latency = 33 })
	f.s.OnConnectedToMaster()
	assert.Equal(t, StateConnectedToMaster, f.state(t))
	assert.Equal(t, 1, f.ft.count("join_lobby"), "lobby joined automatically")

	sample := samples.next(t)
	assert.Equal(t, LatencySampled{Region: "eu", Millis: 33, At: f.clock.Now()}, sample)

	f.s.OnJoinedLobby()
	f.s.OnRoomListUpdate([]transport.RoomSummary{listed("Room2"), listed("Room1")})
	snap, err := f.s.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Room1", "Room2"}, snap.Names())

	require.NoError(t, f.s.JoinRoom(ctx, "Room1"))
	f.ft.set(func(ft *fakeTransport) { ft.authority = true })
	f.s.OnJoinedRoom("Room1")

	room, role, ok, err := f.s.CurrentRoom(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Room1", room)
	assert.Equal(t, RoleAuthority, role)
	assert.Equal(t, JoinedGameRoom{Room: "Room1", Role: RoleAuthority}, joined.next(t))

	assert.Equal(t, []string{
		"connect_name_server:true",
		"disconnect",
		"connect_region:eu",
		"join_lobby",
		"join_room:Room1",
		"load_scene:02_GameScene",
	}, f.ft.Calls())
}

func TestSession_MasterConnectionBeforeConsentIgnored(t *testing.T) {
	f := startSession(t)
	ctx := ctxT(t)

	require.NoError(t, f.s.StartDiscovery(ctx))
	f.ft.set(func(ft *fakeTransport) { ft.connected = true })
	f.s.OnConnectedToMaster()

	assert.Equal(t, StateDiscoveringRegions, f.state(t))
	assert.Equal(t, 0, f.ft.count("join_lobby"))
	assert.Equal(t, 0, f.ft.count("disconnect"), "the incidental connection is left alone")
}

func TestSession_DisconnectStopsSamplingAndRecords(t *testing.T) {
	f := startSession(t)
	ctx := ctxT(t)
	samples := record[LatencySampled](f.s.Bus())
	f.connectedTo(t, "eu")
	samples.next(t)

	f.s.OnJoinedLobby()
	f.s.OnRoomListUpdate([]transport.RoomSummary{listed("Room1")})
	f.s.OnDisconnected(transport.CauseServerTimeout)
	assert.Equal(t, StateDisconnected, f.state(t))

	require.Eventually(t, func() bool { return !f.s.sampler.Running() }, time.Second, 5*time.Millisecond)
	snap, err := f.s.Rooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Rooms)

	disconnects := f.rec.Disconnects()
	require.Len(t, disconnects, 1)
	assert.Equal(t, f.s.ID(), disconnects[0].SessionID)
	assert.Equal(t, "eu", disconnects[0].Region)
	assert.Equal(t, int(transport.CauseServerTimeout), disconnects[0].Code)
	assert.Equal(t, transport.CauseServerTimeout.String(), disconnects[0].Cause)
}

func TestSession_ReselectAfterDisconnect(t *testing.T) {
	f := startSession(t)
	ctx := ctxT(t)
	f.connectedTo(t, "eu")
	f.s.OnDisconnected(transport.CauseServerTimeout)
	f.ft.set(func(ft *fakeTransport) { ft.connected = false })

	require.NoError(t, f.s.SelectRegion(ctx, "us"))
	f.s.OnConnectedToMaster()

	assert.Equal(t, StateConnectedToMaster, f.state(t))
	assert.Equal(t, 2, f.ft.count("join_lobby"))
	assert.Equal(t, 1, f.ft.count("connect_region:us"))
}

func TestSession_RegionSwitchDropsAbandonedLobby(t *testing.T) {
	f := startSession(t)
	ctx := ctxT(t)
	ready := record[LobbyReady](f.s.Bus())
	f.connectedTo(t, "eu")

	require.NoError(t, f.s.SelectRegion(ctx, "us"))
	// eu answers the lobby request it received before the switch.
	f.s.OnJoinedLobby()
	f.s.OnRoomListUpdate([]transport.RoomSummary{listed("EuRoom")})
	f.s.OnDisconnected(transport.CauseClientDisconnect)
	f.s.OnConnectedToMaster()

	assert.Equal(t, StateConnectedToMaster, f.state(t))
	assert.Equal(t, 2, f.ft.count("join_lobby"), "us lobby requested")
	snap, err := f.s.Rooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Rooms)
	assert.Equal(t, 0, ready.Len())

	f.s.OnJoinedLobby()
	f.s.OnRoomListUpdate([]transport.RoomSummary{listed("UsRoom")})
	snap, err = f.s.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"UsRoom"}, snap.Names())
	assert.Equal(t, 1, ready.Len())
}

func TestSession_RegionSwitchAbandonsRoomJoin(t *testing.T) {
	f := startSession(t)
	ctx := ctxT(t)
	joined := record[JoinedGameRoom](f.s.Bus())
	f.connectedTo(t, "eu")
	f.s.OnJoinedLobby()
	f.ft.set(func(ft *fakeTransport) { ft.authority = true })
	require.NoError(t, f.s.JoinRoom(ctx, "Room1"))

	require.NoError(t, f.s.SelectRegion(ctx, "us"))
	f.s.OnJoinedRoom("Room1")
	f.s.OnDisconnected(transport.CauseClientDisconnect)
	f.s.OnConnectedToMaster()

	_, _, ok, err := f.s.CurrentRoom(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, joined.Len())
	assert.Equal(t, 0, f.ft.count("load_scene"))
}

func TestSession_DisconnectAbandonsRoomJoin(t *testing.T) {
	f := startSession(t)
	ctx := ctxT(t)
	joined := record[JoinedGameRoom](f.s.Bus())
	f.connectedTo(t, "eu")
	require.NoError(t, f.s.CreateRoom(ctx, "Mine"))

	f.s.OnDisconnected(transport.CauseServerTimeout)
	f.s.OnJoinedRoom("Mine")

	_, _, ok, err := f.s.CurrentRoom(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, joined.Len())
}

func TestSession_SelectRegionErrors(t *testing.T) {
	f := startSession(t)
	ctx := ctxT(t)

	assert.ErrorIs(t, f.s.SelectRegion(ctx, "eu"), ErrInvalidTransition)
	assert.ErrorIs(t, f.s.SelectRegion(ctx, "  "), ErrBlankRegion)

	require.NoError(t, f.s.StartDiscovery(ctx))
	f.s.OnRegionListReceived(regions("eu", 90))
	assert.ErrorIs(t, f.s.SelectRegion(ctx, "mars"), ErrUnknownRegion)
	assert.Equal(t, StateAwaitingRegionChoice, f.state(t))
}

func TestSession_SelectRegionTransportFailure(t *testing.T) {
	f := startSession(t)
	ctx := ctxT(t)
	f.connectedTo(t, "eu")
	f.s.OnJoinedLobby()
	f.ft.set(func(ft *fakeTransport) { ft.fail["connect_region"] = errors.New("refused") })

	require.Error(t, f.s.SelectRegion(ctx, "us"))

	assert.Equal(t, StateDisconnected, f.state(t))
	require.Eventually(t, func() bool { return !f.s.sampler.Running() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.s.JoinLobby(ctx), ErrLobbyGated)
	assert.Equal(t, 1, f.ft.count("join_lobby"))
}

func TestSession_RoomFailureRecorded(t *testing.T) {
	f := startSession(t)
	f.connectedTo(t, "eu")
	ctx := ctxT(t)
	failures := record[RoomOperationFailed](f.s.Bus())

	require.NoError(t, f.s.CreateRoom(ctx, "Room1"))
	f.s.OnCreateRoomFailed(transport.CodeGameIDAlreadyExists, "exists")
	failures.next(t)
	require.NoError(t, f.s.JoinRoom(ctx, "Room2"))
	f.s.OnJoinRoomFailed(transport.CodeGameFull, "full")
	failures.next(t)

	got := f.rec.Failures()
	require.Len(t, got, 2)
	assert.Equal(t, "create_room", got[0].Op)
	assert.Equal(t, transport.CodeGameIDAlreadyExists, got[0].Code)
	assert.Equal(t, "join_room", got[1].Op)
	assert.Equal(t, "full", got[1].Message)
	assert.Equal(t, "eu", got[1].Region)
}

func TestSession_CreateRoom(t *testing.T) {
	f := startSession(t)
	ctx := ctxT(t)

	require.NoError(t, f.s.CreateRoom(ctx, "Room1"))
	require.NoError(t, f.s.CreateRoom(ctx, " "))

	assert.Equal(t, []string{"create_room:Room1"}, f.ft.Calls())
	assert.Equal(t, transport.RoomOptions{MaxOccupants: 4, Visible: true, Open: true}, f.ft.options[0])
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

func TestSession_CloseRunsClosersInReverse(t *testing.T) {
	f := newSession(t)
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	var order []string
	f.s.AddCloser(closerFunc(func() error { order = append(order, "a"); return errA }))
	f.s.AddCloser(closerFunc(func() error { order = append(order, "ok"); return nil }))
	f.s.AddCloser(closerFunc(func() error { order = append(order, "b"); return errB }))

	err := f.s.Close()

	assert.Equal(t, []string{"b", "ok", "a"}, order)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, err, f.s.Close(), "Close is idempotent")
	assert.Equal(t, []string{"b", "ok", "a"}, order)
}

func TestSession_AfterCloseCallbacksDropped(t *testing.T) {
	f := startSession(t)
	require.NoError(t, f.s.Close())

	f.s.OnRegionListReceived(regions("eu", 10))
	f.s.OnConnectedToMaster()
	f.s.OnDisconnected(transport.CauseServerTimeout)

	_, err := f.s.State(ctxT(t))
	assert.ErrorIs(t, err, ErrLoopClosed)
	assert.ErrorIs(t, f.s.StartDiscovery(ctxT(t)), ErrLoopClosed)
	assert.Equal(t, 0, f.s.Bus().SubscriberCount())
	assert.Empty(t, f.ft.Calls())
}

func TestSession_CallHonoursContext(t *testing.T) {
	f := newSession(t)
	t.Cleanup(func() { _ = f.s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.s.State(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "no loop is running")
}
