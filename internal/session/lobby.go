package session

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/transport"
)

// ConnectionView is the read-only face of the connection coordinator that
// lobby admission depends on.
type ConnectionView interface {
	State() ConnectionState
	HasUserSelectedRegion() bool
}

// RoomSettings are the fixed parameters of rooms this node creates and the
// scene it loads once inside one.
type RoomSettings struct {
	Capacity    int
	Visible     bool
	Open        bool
	ExpiryGrace time.Duration
	GameScene   string
}

func (s RoomSettings) options() transport.RoomOptions {
	return transport.RoomOptions{
		MaxOccupants:  s.Capacity,
		Visible:       s.Visible,
		Open:          s.Open,
		ExpiryGraceMs: int(s.ExpiryGrace / time.Millisecond),
	}
}

type lobbyPhase int

const (
	phaseOutside lobbyPhase = iota
	phaseJoiningLobby
	phaseInLobby
	phaseInRoom
)

// LobbyCoordinator manages lobby entry, the room cache, room creation and
// joining, and the scene hand-off after a room is joined.
//
// Not safe for concurrent use: every method must run on the session loop.
type LobbyCoordinator struct {
	transport transport.Transport
	conn      ConnectionView
	bus       *Bus
	logger    *zap.Logger
	settings  RoomSettings

	cache *RoomCache
	phase lobbyPhase
	room  string
	role  Role
	// pending is the create or join awaiting its answer, or "".
	pending RoomOp
}

// NewLobbyCoordinator creates a coordinator outside any lobby.
//
// Precondition: t, conn, bus, and logger must be non-nil.
func NewLobbyCoordinator(t transport.Transport, conn ConnectionView, bus *Bus, settings RoomSettings, logger *zap.Logger) *LobbyCoordinator {
	return &LobbyCoordinator{
		transport: t,
		conn:      conn,
		bus:       bus,
		logger:    logger,
		settings:  settings,
		cache:     NewRoomCache(),
	}
}

// InLobby reports whether the lobby has been entered and not left.
func (l *LobbyCoordinator) InLobby() bool {
	return l.phase == phaseInLobby
}

// CurrentRoom returns the joined room and this node's role in it.
//
// Postcondition: Returns ("", RoleFollower, false) when not in a room.
func (l *LobbyCoordinator) CurrentRoom() (string, Role, bool) {
	if l.phase != phaseInRoom {
		return "", RoleFollower, false
	}
	return l.room, l.role, true
}

// Rooms returns a snapshot of the room cache.
func (l *LobbyCoordinator) Rooms() RoomSnapshot {
	return l.cache.Snapshot()
}

// JoinLobby asks the transport to enter the lobby. A join already in flight
// or completed makes this a no-op.
//
// Precondition: the connection is ConnectedToMaster through a region the
// user chose; otherwise ErrLobbyGated is returned.
func (l *LobbyCoordinator) JoinLobby() error {
	if l.conn.State() != StateConnectedToMaster || !l.conn.HasUserSelectedRegion() {
		return ErrLobbyGated
	}
	if l.phase == phaseJoiningLobby || l.phase == phaseInLobby {
		l.logger.Debug("lobby join already requested")
		return nil
	}

	l.logger.Info("joining lobby")
	if err := l.transport.JoinLobby(); err != nil {
		return fmt.Errorf("joining lobby: %w", err)
	}
	l.phase = phaseJoiningLobby
	return nil
}

// OnJoinedLobby resets the room cache, since a lobby entry never trusts a
// previous listing, and publishes LobbyReady. Only the answer to the current
// JoinLobby request is accepted; a lobby entry from an abandoned connection
// is dropped.
func (l *LobbyCoordinator) OnJoinedLobby() {
	if l.phase != phaseJoiningLobby {
		l.logger.Debug("ignoring lobby entry not requested on this connection")
		return
	}
	l.phase = phaseInLobby
	l.room = ""
	l.cache.Clear()
	l.logger.Info("lobby joined, awaiting room list")
	Publish(l.bus, LobbyReady{})
}

// OnRoomListUpdate merges a delta batch into the cache and publishes the
// resulting snapshot once. Batches arriving outside the lobby are dropped.
func (l *LobbyCoordinator) OnRoomListUpdate(batch []transport.RoomSummary) {
	if l.phase != phaseInLobby {
		l.logger.Debug("ignoring room list outside the lobby", zap.Int("delta", len(batch)))
		return
	}
	l.cache.Apply(batch)
	snap := l.cache.Snapshot()
	l.logger.Debug("room list updated",
		zap.Int("delta", len(batch)),
		zap.Int("rooms", len(snap.Rooms)),
		zap.Uint64("generation", snap.Generation),
	)
	Publish(l.bus, RoomListUpdated{Snapshot: snap})
}

// CreateRoom requests a room named name with the configured settings.
// A blank name is ignored.
func (l *LobbyCoordinator) CreateRoom(name string) error {
	if strings.TrimSpace(name) == "" {
		l.logger.Debug("ignoring create with blank room name")
		return nil
	}
	l.logger.Info("creating room",
		zap.String("room", name),
		zap.Int("capacity", l.settings.Capacity),
	)
	if err := l.transport.CreateRoom(name, l.settings.options()); err != nil {
		return fmt.Errorf("creating room %q: %w", name, err)
	}
	l.pending = OpCreateRoom
	return nil
}

// JoinRoom requests to join the room named name. While the transport reports
// a join in progress, or for a blank name, the call is ignored.
func (l *LobbyCoordinator) JoinRoom(name string) error {
	if strings.TrimSpace(name) == "" {
		l.logger.Debug("ignoring join with blank room name")
		return nil
	}
	if l.transport.IsJoining() {
		l.logger.Debug("ignoring join while another join is in progress", zap.String("room", name))
		return nil
	}
	l.logger.Info("joining room", zap.String("room", name))
	if err := l.transport.JoinRoom(name); err != nil {
		return fmt.Errorf("joining room %q: %w", name, err)
	}
	l.pending = OpJoinRoom
	return nil
}

// OnJoinedRoom publishes JoinedGameRoom and performs the scene hand-off: the
// authority loads the game scene, followers rely on automatic scene sync.
// A join with no create or join request pending was abandoned and is ignored.
func (l *LobbyCoordinator) OnJoinedRoom(room string) {
	if l.pending == "" {
		l.logger.Debug("ignoring room join with no request pending", zap.String("room", room))
		return
	}
	l.pending = ""
	l.phase = phaseInRoom
	l.room = room
	l.role = RoleFollower
	if l.transport.IsAuthority() {
		l.role = RoleAuthority
	}

	l.logger.Info("joined room",
		zap.String("room", room),
		zap.Stringer("role", l.role),
	)
	Publish(l.bus, JoinedGameRoom{Room: room, Role: l.role})

	if l.role != RoleAuthority {
		return
	}
	l.logger.Info("loading game scene", zap.String("scene", l.settings.GameScene))
	if err := l.transport.LoadScene(l.settings.GameScene); err != nil {
		l.logger.Error("scene load request failed",
			zap.String("scene", l.settings.GameScene),
			zap.Error(err),
		)
	}
}

// OnCreateRoomFailed reports a rejected creation.
func (l *LobbyCoordinator) OnCreateRoomFailed(code int16, message string) {
	l.failed(OpCreateRoom, code, message)
}

// OnJoinRoomFailed reports a rejected join.
func (l *LobbyCoordinator) OnJoinRoomFailed(code int16, message string) {
	l.failed(OpJoinRoom, code, message)
}

func (l *LobbyCoordinator) failed(op RoomOp, code int16, message string) {
	if l.pending != op {
		l.logger.Debug("ignoring failure of a request no longer pending",
			zap.String("op", string(op)),
			zap.Int16("code", code),
		)
		return
	}
	l.pending = ""
	l.logger.Error("room operation failed",
		zap.String("op", string(op)),
		zap.Int16("code", code),
		zap.String("message", message),
	)
	Publish(l.bus, RoomOperationFailed{Op: op, Code: code, Message: message})
}

// Invalidate forgets lobby membership, any pending lobby entry or room
// request, the joined room, and the room cache after the master connection
// is lost or abandoned. An empty snapshot is published when the cache held
// rooms.
func (l *LobbyCoordinator) Invalidate() {
	l.pending = ""
	if l.phase == phaseOutside && l.cache.Len() == 0 {
		return
	}
	l.phase = phaseOutside
	l.room = ""
	l.role = RoleFollower
	hadRooms := l.cache.Len() > 0
	l.cache.Clear()
	if hadRooms {
		Publish(l.bus, RoomListUpdated{Snapshot: l.cache.Snapshot()})
	}
}
