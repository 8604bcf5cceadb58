package session

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/transport"
)

// ConnectionCoordinator drives the handshake from name-server discovery to a
// master-server connection in a user-chosen region. It owns the connection
// state, the user's region consent, and the region catalog.
//
// Not safe for concurrent use: every method must run on the session loop.
type ConnectionCoordinator struct {
	transport transport.Transport
	bus       *Bus
	logger    *zap.Logger

	state   ConnectionState
	consent bool
	pinned  string
	catalog *RegionCatalog
	// handoff is set while the disconnect requested by SelectRegion is
	// still owed a callback.
	handoff bool
}

// NewConnectionCoordinator creates a coordinator in StateIdle with an empty
// catalog.
//
// Precondition: t, bus, and logger must be non-nil.
func NewConnectionCoordinator(t transport.Transport, bus *Bus, logger *zap.Logger) *ConnectionCoordinator {
	return &ConnectionCoordinator{
		transport: t,
		bus:       bus,
		logger:    logger,
		state:     StateIdle,
		catalog:   NewRegionCatalog(nil),
	}
}

// State returns the current connection state.
func (c *ConnectionCoordinator) State() ConnectionState {
	return c.state
}

// HasUserSelectedRegion reports whether SelectRegion has been called since
// the last StartDiscovery.
func (c *ConnectionCoordinator) HasUserSelectedRegion() bool {
	return c.consent
}

// PinnedRegion returns the region code chosen by the user, or "".
func (c *ConnectionCoordinator) PinnedRegion() string {
	return c.pinned
}

// Catalog returns the most recent region catalog.
func (c *ConnectionCoordinator) Catalog() *RegionCatalog {
	return c.catalog
}

// StartDiscovery connects to the name server without a fixed region so that
// the transport reports the available regions.
//
// Precondition: State is Idle, AwaitingRegionChoice, or Disconnected.
// Postcondition: State is DiscoveringRegions and consent is cleared, or an
// error wrapping ErrInvalidTransition is returned and nothing changed. A
// transport refusal moves the state to Disconnected.
func (c *ConnectionCoordinator) StartDiscovery() error {
	to, ok := next(c.state, evStartDiscovery)
	if !ok {
		return fmt.Errorf("%s from %s: %w", evStartDiscovery, c.state, ErrInvalidTransition)
	}

	c.consent = false
	c.pinned = ""
	c.handoff = false
	c.setState(to)

	c.logger.Info("connecting to name server")
	if err := c.transport.ConnectWithoutFixedRegion(true); err != nil {
		c.fail(transport.CauseExceptionOnConnect, err)
		return fmt.Errorf("connecting to name server: %w", err)
	}
	return nil
}

// SelectRegion records the user's region choice and connects to that
// region's master server, dropping any existing connection first.
//
// Precondition: State is AwaitingRegionChoice, ConnectedToMaster, or
// Disconnected; code is non-blank and present in a non-empty catalog.
// Postcondition: State is ConnectingToRegion with consent granted, or an
// error is returned and nothing changed.
func (c *ConnectionCoordinator) SelectRegion(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrBlankRegion
	}
	to, ok := next(c.state, evSelectRegion)
	if !ok {
		return fmt.Errorf("%s from %s: %w", evSelectRegion, c.state, ErrInvalidTransition)
	}
	if c.catalog.Len() > 0 {
		if _, known := c.catalog.Lookup(code); !known {
			return fmt.Errorf("region %q: %w", code, ErrUnknownRegion)
		}
	}

	c.logger.Info("user selected region", zap.String("region", code))
	c.consent = true
	c.pinned = code
	Publish(c.bus, RegionChoiceStarted{Code: code})
	c.setState(to)

	if c.transport.IsConnected() {
		c.handoff = true
		if err := c.transport.Disconnect(); err != nil {
			c.handoff = false
			c.logger.Warn("disconnect before region switch failed", zap.Error(err))
		}
	}
	if err := c.transport.ConnectToRegion(code); err != nil {
		c.fail(transport.CauseExceptionOnConnect, err)
		return fmt.Errorf("connecting to region %q: %w", code, err)
	}
	return nil
}

// OnRegionListReceived replaces the catalog with regions and publishes it.
// The machine waits in AwaitingRegionChoice; it never picks a region itself.
func (c *ConnectionCoordinator) OnRegionListReceived(regions []transport.Region) {
	c.catalog = NewRegionCatalog(regions)
	c.logger.Info("region list received", zap.Int("regions", c.catalog.Len()))
	Publish(c.bus, RegionsUpdated{Regions: c.catalog.Regions()})

	if to, ok := next(c.state, evRegionList); ok {
		c.setState(to)
	}
}

// OnConnectedToMaster handles the transport's master-connection callback.
// Without user consent the callback is an opportunistic connection made by
// the transport and is ignored; the transport is left connected until the
// user picks a region. Callbacks arrive in order, so a master connection
// reported while the region-switch disconnect is still owed belongs to the
// connection being replaced and is ignored too.
//
// Postcondition: Returns true iff the state moved to ConnectedToMaster.
func (c *ConnectionCoordinator) OnConnectedToMaster() bool {
	if !c.consent {
		c.logger.Info("ignoring master connection made before region selection",
			zap.String("state", c.state.String()),
		)
		return false
	}
	if c.handoff {
		c.logger.Info("ignoring master connection of the connection being replaced",
			zap.String("region", c.pinned),
		)
		return false
	}
	if c.state == StateConnectedToMaster {
		c.logger.Debug("duplicate master connection callback")
		return false
	}

	to, _ := next(c.state, evConnectedToMaster)
	c.setState(to)
	c.logger.Info("connected to master", zap.String("region", c.pinned))
	Publish(c.bus, ConnectedToMaster{Region: c.pinned})
	return true
}

// OnDisconnected handles the transport's disconnect callback. The single
// client-side disconnect requested by SelectRegion is absorbed.
//
// Postcondition: Returns true iff the state moved to Disconnected.
func (c *ConnectionCoordinator) OnDisconnected(cause transport.DisconnectCause) bool {
	if c.handoff && c.state == StateConnectingToRegion && cause == transport.CauseClientDisconnect {
		c.handoff = false
		c.logger.Debug("name server connection released for region switch")
		return false
	}
	c.handoff = false
	if c.state == StateDisconnected {
		c.logger.Debug("duplicate disconnect callback", zap.Stringer("cause", cause))
		return false
	}

	to, _ := next(c.state, evDisconnected)
	c.setState(to)
	c.logger.Warn("disconnected", zap.Stringer("cause", cause))
	Publish(c.bus, Disconnected{Cause: cause})
	return true
}

func (c *ConnectionCoordinator) fail(cause transport.DisconnectCause, err error) {
	c.logger.Error("transport refused connection request", zap.Error(err))
	c.OnDisconnected(cause)
}

func (c *ConnectionCoordinator) setState(to ConnectionState) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.logger.Debug("connection state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	Publish(c.bus, StateChanged{From: from, To: to})
}
