package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/lobby/internal/transport"
)

// connStub is a ConnectionView whose answers the test sets directly.
type connStub struct {
	state   ConnectionState
	consent bool
}

func (c *connStub) State() ConnectionState      { return c.state }
func (c *connStub) HasUserSelectedRegion() bool { return c.consent }

func newLobby(t *testing.T) (*LobbyCoordinator, *fakeTransport, *connStub, *Bus) {
	t.Helper()
	ft := newFakeTransport()
	conn := &connStub{state: StateConnectedToMaster, consent: true}
	bus := NewBus(testLogger(t))
	return NewLobbyCoordinator(ft, conn, bus, defaultSettings(), testLogger(t)), ft, conn, bus
}

func TestLobby_JoinLobbyGated(t *testing.T) {
	cases := map[string]connStub{
		"not connected":      {state: StateConnectingToRegion, consent: true},
		"no consent":         {state: StateConnectedToMaster, consent: false},
		"disconnected":       {state: StateDisconnected, consent: true},
		"awaiting selection": {state: StateAwaitingRegionChoice, consent: false},
	}
	for name, stub := range cases {
		t.Run(name, func(t *testing.T) {
			l, ft, conn, _ := newLobby(t)
			*conn = stub
			assert.True(t, errors.Is(l.JoinLobby(), ErrLobbyGated))
			assert.Equal(t, 0, ft.count("join_lobby"))
		})
	}
}

func TestLobby_JoinLobbyOnce(t *testing.T) {
	l, ft, _, _ := newLobby(t)
	require.NoError(t, l.JoinLobby())
	require.NoError(t, l.JoinLobby())
	assert.Equal(t, 1, ft.count("join_lobby"))

	l.OnJoinedLobby()
	require.NoError(t, l.JoinLobby())
	assert.Equal(t, 1, ft.count("join_lobby"))
}

func TestLobby_JoinLobbyTransportError(t *testing.T) {
	l, ft, _, _ := newLobby(t)
	ft.set(func(f *fakeTransport) { f.fail["join_lobby"] = errors.New("not ready") })
	require.Error(t, l.JoinLobby())

	ft.set(func(f *fakeTransport) { delete(f.fail, "join_lobby") })
	require.NoError(t, l.JoinLobby(), "a failed request can be retried by the caller")
	assert.Equal(t, 2, ft.count("join_lobby"))
}

func TestLobby_OnJoinedLobby(t *testing.T) {
	l, _, _, bus := newLobby(t)
	ready := record[LobbyReady](bus)
	require.NoError(t, l.JoinLobby())

	l.OnJoinedLobby()

	assert.True(t, l.InLobby())
	assert.Empty(t, l.Rooms().Rooms)
	assert.Equal(t, 1, ready.Len())
}

func TestLobby_UnrequestedLobbyEntryIgnored(t *testing.T) {
	l, _, _, bus := newLobby(t)
	ready := record[LobbyReady](bus)
	updates := record[RoomListUpdated](bus)

	l.OnJoinedLobby()
	l.OnRoomListUpdate([]transport.RoomSummary{listed("stale")})

	assert.False(t, l.InLobby())
	assert.Empty(t, l.Rooms().Rooms)
	assert.Equal(t, 0, ready.Len())
	assert.Equal(t, 0, updates.Len())
}

func TestLobby_LobbyEntryAbandonedByInvalidate(t *testing.T) {
	l, ft, _, bus := newLobby(t)
	ready := record[LobbyReady](bus)
	require.NoError(t, l.JoinLobby())

	// Region switched before the old connection answered.
	l.Invalidate()
	l.OnJoinedLobby()
	l.OnRoomListUpdate([]transport.RoomSummary{listed("OldRegionRoom")})

	assert.False(t, l.InLobby())
	assert.Empty(t, l.Rooms().Rooms)
	assert.Equal(t, 0, ready.Len())

	// The new connection still gets its own lobby.
	require.NoError(t, l.JoinLobby())
	assert.Equal(t, 2, ft.count("join_lobby"))
	l.OnJoinedLobby()
	l.OnRoomListUpdate([]transport.RoomSummary{listed("NewRegionRoom")})
	assert.True(t, l.InLobby())
	assert.Equal(t, []string{"NewRegionRoom"}, l.Rooms().Names())
}

func TestLobby_RoomListPublishesOneSnapshotPerBatch(t *testing.T) {
	l, _, _, bus := newLobby(t)
	updates := record[RoomListUpdated](bus)
	require.NoError(t, l.JoinLobby())
	l.OnJoinedLobby()

	l.OnRoomListUpdate([]transport.RoomSummary{listed("b"), listed("a"), {Name: "c", Visible: true, Open: false}})

	require.Equal(t, 1, updates.Len())
	assert.Equal(t, []string{"a", "b"}, updates.All()[0].Snapshot.Names())
}

func TestLobby_RoomListScenario(t *testing.T) {
	l, _, _, bus := newLobby(t)
	updates := record[RoomListUpdated](bus)
	require.NoError(t, l.JoinLobby())
	l.OnJoinedLobby()

	l.OnRoomListUpdate([]transport.RoomSummary{{Name: "Room1", Visible: true, Open: true, Removed: false}})
	l.OnRoomListUpdate([]transport.RoomSummary{{Name: "Room1", Removed: true}})

	all := updates.All()
	require.Len(t, all, 2)
	assert.Equal(t, []string{"Room1"}, all[0].Snapshot.Names())
	assert.Empty(t, all[1].Snapshot.Rooms)
}

func TestLobby_CreateRoomBlankNameIsNoop(t *testing.T) {
	l, ft, _, _ := newLobby(t)
	for _, name := range []string{"", "   ", "\t"} {
		require.NoError(t, l.CreateRoom(name))
	}
	assert.Empty(t, ft.Calls())
}

func TestLobby_CreateRoomUsesFixedOptions(t *testing.T) {
	l, ft, _, _ := newLobby(t)
	require.NoError(t, l.CreateRoom("Room1"))

	assert.Equal(t, []string{"create_room:Room1"}, ft.Calls())
	require.Len(t, ft.options, 1)
	assert.Equal(t, transport.RoomOptions{MaxOccupants: 4, Visible: true, Open: true, ExpiryGraceMs: 0}, ft.options[0])
}

func TestLobby_CreateRoomExpiryGraceInMillis(t *testing.T) {
	ft := newFakeTransport()
	settings := defaultSettings()
	settings.ExpiryGrace = 1500 * time.Millisecond
	l := NewLobbyCoordinator(ft, &connStub{}, NewBus(testLogger(t)), settings, testLogger(t))

	require.NoError(t, l.CreateRoom("Room1"))
	assert.Equal(t, 1500, ft.options[0].ExpiryGraceMs)
}

func TestLobby_JoinRoomWhileJoiningIsNoop(t *testing.T) {
	l, ft, _, _ := newLobby(t)
	ft.set(func(f *fakeTransport) { f.joining = true })

	for i := 0; i < 3; i++ {
		require.NoError(t, l.JoinRoom("Room1"))
	}
	assert.Equal(t, 0, ft.count("join_room"))

	ft.set(func(f *fakeTransport) { f.joining = false })
	require.NoError(t, l.JoinRoom("Room1"))
	assert.Equal(t, 1, ft.count("join_room:Room1"))
}

func TestLobby_JoinRoomBlankNameIsNoop(t *testing.T) {
	l, ft, _, _ := newLobby(t)
	require.NoError(t, l.JoinRoom(" "))
	assert.Empty(t, ft.Calls())
}

func TestLobby_AuthorityLoadsSceneOnce(t *testing.T) {
	l, ft, _, bus := newLobby(t)
	joined := record[JoinedGameRoom](bus)
	ft.set(func(f *fakeTransport) { f.authority = true })
	require.NoError(t, l.CreateRoom("Room1"))

	l.OnJoinedRoom("Room1")

	assert.Equal(t, []string{"create_room:Room1", "load_scene:02_GameScene"}, ft.Calls())
	assert.Equal(t, []JoinedGameRoom{{Room: "Room1", Role: RoleAuthority}}, joined.All())
	room, role, ok := l.CurrentRoom()
	assert.True(t, ok)
	assert.Equal(t, "Room1", room)
	assert.Equal(t, RoleAuthority, role)
}

func TestLobby_FollowerDoesNotLoadScene(t *testing.T) {
	l, ft, _, bus := newLobby(t)
	joined := record[JoinedGameRoom](bus)
	require.NoError(t, l.JoinRoom("Room1"))

	l.OnJoinedRoom("Room1")

	assert.Equal(t, 0, ft.count("load_scene"))
	assert.Equal(t, []JoinedGameRoom{{Room: "Room1", Role: RoleFollower}}, joined.All())
}

func TestLobby_RoleRecomputedOnRejoin(t *testing.T) {
	l, ft, _, _ := newLobby(t)
	require.NoError(t, l.JoinRoom("Room1"))
	l.OnJoinedRoom("Room1")
	ft.set(func(f *fakeTransport) { f.authority = true })
	require.NoError(t, l.JoinRoom("Room1"))
	l.OnJoinedRoom("Room1")

	_, role, _ := l.CurrentRoom()
	assert.Equal(t, RoleAuthority, role)
	assert.Equal(t, 1, ft.count("load_scene"))
}

func TestLobby_FailuresPublished(t *testing.T) {
	l, ft, _, bus := newLobby(t)
	failures := record[RoomOperationFailed](bus)

	require.NoError(t, l.CreateRoom("Room1"))
	l.OnCreateRoomFailed(transport.CodeGameIDAlreadyExists, "exists")
	require.NoError(t, l.JoinRoom("Room2"))
	l.OnJoinRoomFailed(transport.CodeGameFull, "full")

	assert.Equal(t, []RoomOperationFailed{
		{Op: OpCreateRoom, Code: transport.CodeGameIDAlreadyExists, Message: "exists"},
		{Op: OpJoinRoom, Code: transport.CodeGameFull, Message: "full"},
	}, failures.All())
	assert.Equal(t, []string{"create_room:Room1", "join_room:Room2"}, ft.Calls(), "no retry")
}

func TestLobby_AnswersWithoutPendingRequestIgnored(t *testing.T) {
	l, ft, _, bus := newLobby(t)
	joined := record[JoinedGameRoom](bus)
	failures := record[RoomOperationFailed](bus)

	l.OnJoinedRoom("Room1")
	l.OnJoinRoomFailed(transport.CodeGameFull, "full")
	require.NoError(t, l.CreateRoom("Room1"))
	l.OnJoinRoomFailed(transport.CodeGameFull, "wrong op")

	assert.Equal(t, 0, joined.Len())
	assert.Equal(t, 0, failures.Len())
	_, _, ok := l.CurrentRoom()
	assert.False(t, ok)
	assert.Equal(t, 0, ft.count("load_scene"))
}

func TestLobby_RoomJoinAbandonedByInvalidate(t *testing.T) {
	l, ft, _, bus := newLobby(t)
	joined := record[JoinedGameRoom](bus)
	ft.set(func(f *fakeTransport) { f.authority = true })
	require.NoError(t, l.JoinLobby())
	l.OnJoinedLobby()
	require.NoError(t, l.JoinRoom("Room1"))

	l.Invalidate()
	l.OnJoinedRoom("Room1")

	assert.Equal(t, 0, joined.Len())
	_, _, ok := l.CurrentRoom()
	assert.False(t, ok)
	assert.Equal(t, 0, ft.count("load_scene"))

	// A fresh request on the next connection is honored.
	require.NoError(t, l.JoinRoom("Room1"))
	l.OnJoinedRoom("Room1")
	assert.Equal(t, 1, joined.Len())
}

func TestLobby_Invalidate(t *testing.T) {
	l, ft, _, bus := newLobby(t)
	updates := record[RoomListUpdated](bus)
	require.NoError(t, l.JoinLobby())
	l.OnJoinedLobby()
	l.OnRoomListUpdate([]transport.RoomSummary{listed("Room1")})

	l.Invalidate()

	assert.False(t, l.InLobby())
	assert.Empty(t, l.Rooms().Rooms)
	require.Equal(t, 2, updates.Len())
	assert.Empty(t, updates.All()[1].Snapshot.Rooms)

	require.NoError(t, l.JoinLobby(), "lobby can be re-entered")
	assert.Equal(t, 2, ft.count("join_lobby"))
}

func TestLobby_InvalidateWhenOutsideIsQuiet(t *testing.T) {
	l, _, _, bus := newLobby(t)
	updates := record[RoomListUpdated](bus)
	l.Invalidate()
	assert.Equal(t, 0, updates.Len())
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "authority", RoleAuthority.String())
	assert.Equal(t, "follower", RoleFollower.String())
}
