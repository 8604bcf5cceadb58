package session

import "fmt"

// ConnectionState is the position of the connection handshake.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateDiscoveringRegions
	StateAwaitingRegionChoice
	StateConnectingToRegion
	StateConnectedToMaster
	StateDisconnected
)

var stateNames = [...]string{
	StateIdle:                 "idle",
	StateDiscoveringRegions:   "discovering_regions",
	StateAwaitingRegionChoice: "awaiting_region_choice",
	StateConnectingToRegion:   "connecting_to_region",
	StateConnectedToMaster:    "connected_to_master",
	StateDisconnected:         "disconnected",
}

// String returns the snake_case name of the state.
func (s ConnectionState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// connEvent names the inputs of the connection state machine.
type connEvent string

const (
	evStartDiscovery    connEvent = "start_discovery"
	evRegionList        connEvent = "region_list_received"
	evSelectRegion      connEvent = "select_region"
	evConnectedToMaster connEvent = "connected_to_master"
	evDisconnected      connEvent = "disconnected"
)

// transition is one row of the connection transition table.
type transition struct {
	from map[ConnectionState]bool // nil means any state
	to   ConnectionState
}

func states(ss ...ConnectionState) map[ConnectionState]bool {
	m := make(map[ConnectionState]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

// transitions is the complete table of state-changing inputs. Inputs that
// arrive from a state not listed leave the state unchanged.
var transitions = map[connEvent]transition{
	evStartDiscovery: {
		from: states(StateIdle, StateAwaitingRegionChoice, StateDisconnected),
		to:   StateDiscoveringRegions,
	},
	evRegionList: {
		from: states(StateDiscoveringRegions),
		to:   StateAwaitingRegionChoice,
	},
	evSelectRegion: {
		from: states(StateAwaitingRegionChoice, StateConnectedToMaster, StateDisconnected),
		to:   StateConnectingToRegion,
	},
	evConnectedToMaster: {
		to: StateConnectedToMaster,
	},
	evDisconnected: {
		to: StateDisconnected,
	},
}

// next returns the target state of ev from s, and whether ev is permitted.
func next(s ConnectionState, ev connEvent) (ConnectionState, bool) {
	t, ok := transitions[ev]
	if !ok {
		return s, false
	}
	if t.from != nil && !t.from[s] {
		return s, false
	}
	return t.to, true
}

// Role is a node's part in the scene hand-off of a joined room.
type Role int

const (
	// RoleFollower waits for the transport's automatic scene sync.
	RoleFollower Role = iota
	// RoleAuthority initiates the scene load for the room.
	RoleAuthority
)

// String returns "authority" or "follower".
func (r Role) String() string {
	if r == RoleAuthority {
		return "authority"
	}
	return "follower"
}
