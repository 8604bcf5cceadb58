package session

import "errors"

var (
	// ErrInvalidTransition is returned when a caller action is not permitted
	// from the current connection state.
	ErrInvalidTransition = errors.New("invalid connection state transition")
	// ErrBlankRegion is returned by SelectRegion for an empty region code.
	ErrBlankRegion = errors.New("region code must not be blank")
	// ErrUnknownRegion is returned by SelectRegion for a code missing from
	// the current region catalog.
	ErrUnknownRegion = errors.New("region not in catalog")
	// ErrLobbyGated is returned by JoinLobby before the master connection is
	// established through a deliberate region choice.
	ErrLobbyGated = errors.New("lobby join requires a master connection to a chosen region")
	// ErrLoopClosed is returned when work is submitted to a stopped event loop.
	ErrLoopClosed = errors.New("session event loop closed")
)
