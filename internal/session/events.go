package session

import (
	"time"

	"github.com/cory-johannsen/lobby/internal/transport"
)

// StateChanged is published on every connection state transition.
type StateChanged struct {
	From ConnectionState
	To   ConnectionState
}

// RegionsUpdated carries a fresh region catalog after discovery.
type RegionsUpdated struct {
	Regions []transport.Region
}

// RegionChoiceStarted is published when the user commits to a region, so a
// region picker can dismiss itself.
type RegionChoiceStarted struct {
	Code string
}

// ConnectedToMaster is published when a consented master connection lands.
type ConnectedToMaster struct {
	Region string
}

// Disconnected is published when the connection drops.
type Disconnected struct {
	Cause transport.DisconnectCause
}

// LobbyReady is published after the lobby has been entered and the room
// cache reset.
type LobbyReady struct{}

// RoomListUpdated carries the full room cache after each delta batch.
type RoomListUpdated struct {
	Snapshot RoomSnapshot
}

// JoinedGameRoom is published when this node enters a room.
type JoinedGameRoom struct {
	Room string
	Role Role
}

// RoomOp names the room operation a failure refers to.
type RoomOp string

const (
	OpCreateRoom RoomOp = "create_room"
	OpJoinRoom   RoomOp = "join_room"
)

// RoomOperationFailed carries a create or join rejection.
type RoomOperationFailed struct {
	Op      RoomOp
	Code    int16
	Message string
}

// LatencySampled is published by the latency sampler on each poll.
type LatencySampled struct {
	Region string
	Millis int
	At     time.Time
}
