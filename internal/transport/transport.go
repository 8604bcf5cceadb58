// Package transport defines the contract between the session core and the
// external real-time networking layer: the calls the core makes, the
// callbacks the layer delivers, and the data both sides exchange.
package transport

import "fmt"

// Region is one entry of a name-server discovery response.
//
// Invariant: a Region is never mutated after it is received.
type Region struct {
	// Code is the region identifier, e.g. "eu" or "us".
	Code string `yaml:"code"`
	// Address is opaque routing data for the region's master server.
	Address string `yaml:"address"`
	// Latency is the observed round trip in milliseconds, or UnknownLatency.
	Latency int `yaml:"latency_ms"`
}

// UnknownLatency marks a region that has not been pinged yet.
const UnknownLatency = -1

// HasLatency reports whether the region carries an observed latency.
func (r Region) HasLatency() bool {
	return r.Latency >= 0
}

// RoomSummary is a lobby listing entry.
type RoomSummary struct {
	// Name is the unique room key.
	Name string `yaml:"name"`
	// Visible reports whether the room is listed in the lobby.
	Visible bool `yaml:"visible"`
	// Open reports whether the room accepts joiners.
	Open bool `yaml:"open"`
	// MaxPlayers is the room capacity; zero means unlimited.
	MaxPlayers int `yaml:"max_players"`
	// PlayerCount is the current occupant count.
	PlayerCount int `yaml:"players"`
	// Removed is set only in delta batches, for rooms that left the list.
	Removed bool `yaml:"removed"`
}

// Listable reports whether the entry belongs in a lobby room cache.
func (r RoomSummary) Listable() bool {
	return !r.Removed && r.Visible && r.Open
}

// RoomOptions are the parameters of a room creation request.
type RoomOptions struct {
	MaxOccupants int
	Visible      bool
	Open         bool
	// ExpiryGraceMs is how long an empty room survives, in milliseconds.
	ExpiryGraceMs int
}

// DisconnectCause is the reason code carried by a disconnect callback.
type DisconnectCause int

const (
	CauseNone DisconnectCause = iota
	CauseExceptionOnConnect
	CauseDNSExceptionOnConnect
	CauseServerTimeout
	CauseClientTimeout
	CauseServerLogic
	CauseInvalidAuthentication
	CauseMaxCCUReached
	CauseInvalidRegion
	CauseClientDisconnect
)

var causeNames = map[DisconnectCause]string{
	CauseNone:                  "none",
	CauseExceptionOnConnect:    "exception_on_connect",
	CauseDNSExceptionOnConnect: "dns_exception_on_connect",
	CauseServerTimeout:         "server_timeout",
	CauseClientTimeout:         "client_timeout",
	CauseServerLogic:           "server_logic",
	CauseInvalidAuthentication: "invalid_authentication",
	CauseMaxCCUReached:         "max_ccu_reached",
	CauseInvalidRegion:         "invalid_region",
	CauseClientDisconnect:      "client_disconnect",
}

// String returns the snake_case name of the cause.
func (c DisconnectCause) String() string {
	if name, ok := causeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cause(%d)", int(c))
}

// Room operation failure codes reported by create/join failure callbacks.
const (
	CodeGameDoesNotExist    int16 = 32758
	CodeGameClosed          int16 = 32764
	CodeGameFull            int16 = 32765
	CodeGameIDAlreadyExists int16 = 32766
)

// Transport is the outbound half of the contract. Request methods return an
// error only when the request could not be issued at all; outcomes arrive
// later through Callbacks.
//
// Latency, IsJoining, IsConnected, and IsAuthority must be safe to call from
// any goroutine.
type Transport interface {
	// ConnectWithoutFixedRegion contacts the name server to obtain the region
	// list. autoSyncScene enables followers mirroring the authority's scene.
	ConnectWithoutFixedRegion(autoSyncScene bool) error
	ConnectToRegion(code string) error
	// Disconnect drops the current connection. When one existed it is
	// answered with OnDisconnected(CauseClientDisconnect), delivered before
	// any callback of a later connection.
	Disconnect() error
	JoinLobby() error
	CreateRoom(name string, opts RoomOptions) error
	JoinRoom(name string) error
	LoadScene(name string) error

	Latency() int
	IsJoining() bool
	IsConnected() bool
	// IsAuthority reports whether this node is the designated authority of
	// the room it currently occupies.
	IsAuthority() bool
}

// Callbacks is the inbound half of the contract. A transport delivers
// callbacks one at a time, in the order the underlying events occurred.
type Callbacks interface {
	OnRegionListReceived(regions []Region)
	OnConnectedToMaster()
	OnDisconnected(cause DisconnectCause)
	OnJoinedLobby()
	OnRoomListUpdate(batch []RoomSummary)
	OnJoinedRoom(room string)
	OnCreateRoomFailed(code int16, message string)
	OnJoinRoomFailed(code int16, message string)
}
