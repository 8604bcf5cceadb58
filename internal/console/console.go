package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/session"
	"github.com/cory-johannsen/lobby/internal/telemetry"
	"github.com/cory-johannsen/lobby/internal/transport"
)

// Session is the part of session.Session the console drives.
type Session interface {
	ID() uuid.UUID
	Bus() *session.Bus
	StartDiscovery(ctx context.Context) error
	SelectRegion(ctx context.Context, code string) error
	CreateRoom(ctx context.Context, name string) error
	JoinRoom(ctx context.Context, name string) error
	State(ctx context.Context) (session.ConnectionState, error)
	Regions(ctx context.Context) ([]transport.Region, error)
	BestRegion(ctx context.Context) (transport.Region, bool, error)
	Rooms(ctx context.Context) (session.RoomSnapshot, error)
	CurrentRoom(ctx context.Context) (string, session.Role, bool, error)
}

// DefaultCommandTimeout bounds each command's wait on the session.
const DefaultCommandTimeout = 5 * time.Second

// StatsWindow is how far back the stats command aggregates latency.
const StatsWindow = 24 * time.Hour

const prompt = "> "

// Console reads commands line by line and prints session events. It
// implements server.Service: Start returns nil on quit or end of input.
type Console struct {
	sess     Session
	registry *Registry
	stats    telemetry.Stats
	logger   *zap.Logger
	style    styler
	timeout  time.Duration
	in       io.Reader

	outMu sync.Mutex
	out   io.Writer

	lastPing atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Console over in and out.
//
// Precondition: all arguments non-nil.
func New(sess Session, registry *Registry, in io.Reader, out io.Writer, color bool, logger *zap.Logger) *Console {
	c := &Console{
		sess:     sess,
		registry: registry,
		logger:   logger,
		style:    styler{enabled: color},
		timeout:  DefaultCommandTimeout,
		in:       in,
		out:      out,
		stop:     make(chan struct{}),
	}
	c.lastPing.Store(-1)
	return c
}

// SetStats gives the stats command a telemetry reader. Without one the
// command reports that no durable sink is configured.
//
// Precondition: called before Start.
func (c *Console) SetStats(stats telemetry.Stats) {
	c.stats = stats
}

// Start prints the banner, subscribes to session events, and executes input
// lines until quit, end of input, or Stop.
func (c *Console) Start() error {
	detach := c.Attach()
	defer detach()
	defer c.Stop()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.println(c.style.paint(bold, "lobby client") + " - type " + c.style.paint(cyan, "help") + " for commands")
	c.print(prompt)
	for {
		select {
		case <-c.stop:
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading console input: %w", err)
			}
			c.logger.Info("console input closed")
			return nil
		case line := <-lines:
			if c.Execute(line) {
				return nil
			}
			c.print(prompt)
		}
	}
}

// Stop makes Start return. A read blocked on the input is abandoned.
func (c *Console) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Attach subscribes the console's event printers to the session bus.
//
// Postcondition: Returns a function that removes every subscription.
func (c *Console) Attach() (detach func()) {
	bus := c.sess.Bus()
	unsubs := []func(){
		session.Subscribe(bus, c.onStateChanged),
		session.Subscribe(bus, c.onRegionsUpdated),
		session.Subscribe(bus, c.onConnectedToMaster),
		session.Subscribe(bus, c.onDisconnected),
		session.Subscribe(bus, c.onLobbyReady),
		session.Subscribe(bus, c.onRoomListUpdated),
		session.Subscribe(bus, c.onJoinedGameRoom),
		session.Subscribe(bus, c.onRoomOperationFailed),
		session.Subscribe(bus, c.onLatencySampled),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Execute runs one input line.
//
// Postcondition: Returns true iff the line asked to quit.
func (c *Console) Execute(line string) (quit bool) {
	parsed := Parse(line)
	if parsed.Command == "" {
		return false
	}
	cmd, ok := c.registry.Resolve(parsed.Command)
	if !ok {
		c.println(c.style.paintf(yellow, "unknown command %q, type help for a list", parsed.Command))
		return false
	}
	if cmd.Usage != "" && parsed.RawArgs == "" {
		c.println(c.style.paintf(yellow, "usage: %s %s", cmd.Name, cmd.Usage))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var err error
	switch cmd.Handler {
	case HandlerDiscover:
		err = c.sess.StartDiscovery(ctx)
	case HandlerRegions:
		err = c.printRegions(ctx)
	case HandlerSelect:
		err = c.sess.SelectRegion(ctx, parsed.Args[0])
	case HandlerRooms:
		err = c.printRooms(ctx)
	case HandlerCreate:
		err = c.sess.CreateRoom(ctx, parsed.RawArgs)
	case HandlerJoin:
		err = c.sess.JoinRoom(ctx, parsed.RawArgs)
	case HandlerState:
		err = c.printState(ctx)
	case HandlerStats:
		err = c.printStats(ctx)
	case HandlerHelp:
		c.printHelp()
	case HandlerQuit:
		c.println("bye")
		return true
	}
	if err != nil {
		c.logger.Debug("console command failed", zap.String("command", cmd.Name), zap.Error(err))
		c.println(c.style.paintf(red, "%s: %s", cmd.Name, describe(err)))
	}
	return false
}

// describe turns session errors into operator-facing text.
func describe(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		return "not possible right now (" + err.Error() + ")"
	case errors.Is(err, session.ErrUnknownRegion):
		return err.Error() + "; run discover and regions first"
	case errors.Is(err, session.ErrLobbyGated):
		return "not connected to a region yet"
	default:
		return err.Error()
	}
}

func (c *Console) printRegions(ctx context.Context) error {
	regions, err := c.sess.Regions(ctx)
	if err != nil {
		return err
	}
	if len(regions) == 0 {
		c.println("no regions known; run discover")
		return nil
	}
	best, ok, err := c.sess.BestRegion(ctx)
	if err != nil {
		return err
	}

	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tLATENCY\t")
	for _, r := range regions {
		latency := "?"
		if r.HasLatency() {
			latency = fmt.Sprintf("%dms", r.Latency)
		}
		mark := ""
		if ok && r.Code == best.Code {
			mark = "best"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Code, latency, mark)
	}
	_ = tw.Flush()
	c.print(b.String())
	return nil
}

func (c *Console) printRooms(ctx context.Context) error {
	snap, err := c.sess.Rooms(ctx)
	if err != nil {
		return err
	}
	if len(snap.Rooms) == 0 {
		c.println("no rooms listed")
		return nil
	}

	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tPLAYERS\t")
	for _, r := range snap.Rooms {
		capacity := "-"
		if r.MaxPlayers > 0 {
			capacity = fmt.Sprint(r.MaxPlayers)
		}
		fmt.Fprintf(tw, "%s\t%d/%s\t\n", r.Name, r.PlayerCount, capacity)
	}
	_ = tw.Flush()
	c.print(b.String())
	return nil
}

func (c *Console) printState(ctx context.Context) error {
	st, err := c.sess.State(ctx)
	if err != nil {
		return err
	}
	line := "state: " + c.style.paint(bold, st.String())
	if ms := c.lastPing.Load(); ms >= 0 && st == session.StateConnectedToMaster {
		line += fmt.Sprintf("  ping: %dms", ms)
	}
	room, role, ok, err := c.sess.CurrentRoom(ctx)
	if err != nil {
		return err
	}
	if ok {
		line += fmt.Sprintf("  room: %s (%s)", room, role)
	}
	c.println(line)
	return nil
}

func (c *Console) printStats(ctx context.Context) error {
	if c.stats == nil {
		c.println("stats need the postgres telemetry sink")
		return nil
	}
	id := c.sess.ID()
	disconnects, err := c.stats.Disconnects(ctx, id)
	if err != nil {
		return err
	}
	failures, err := c.stats.RoomFailures(ctx, id)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("session %s: %d disconnects, %d room failures", id, len(disconnects), len(failures))
	if n := len(disconnects); n > 0 {
		line += fmt.Sprintf("; last drop %s in %q", disconnects[n-1].Cause, disconnects[n-1].Region)
	}
	c.println(line)

	regions, err := c.sess.Regions(ctx)
	if err != nil {
		return err
	}
	if len(regions) == 0 {
		return nil
	}
	since := time.Now().Add(-StatsWindow)
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGION\tSAMPLES\tMIN\tAVG\tMAX\t")
	for _, r := range regions {
		st, err := c.stats.RegionLatency(ctx, r.Code, since)
		if err != nil {
			return err
		}
		if st.Samples == 0 {
			fmt.Fprintf(tw, "%s\t0\t-\t-\t-\t\n", r.Code)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%dms\t%.0fms\t%dms\t\n", r.Code, st.Samples, st.MinMs, st.AvgMs, st.MaxMs)
	}
	_ = tw.Flush()
	c.print(b.String())
	return nil
}

func (c *Console) printHelp() {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, cmd := range c.registry.Commands() {
		usage := cmd.Name
		if cmd.Usage != "" {
			usage += " " + cmd.Usage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", usage, cmd.Help, strings.Join(cmd.Aliases, ", "))
	}
	_ = tw.Flush()
	c.print(b.String())
}

func (c *Console) onStateChanged(ev session.StateChanged) {
	c.event(dim, "%s -> %s", ev.From, ev.To)
}

func (c *Console) onRegionsUpdated(ev session.RegionsUpdated) {
	c.event(cyan, "%d regions available; pick one with select <code>", len(ev.Regions))
}

func (c *Console) onConnectedToMaster(ev session.ConnectedToMaster) {
	c.event(green, "connected to region %s", ev.Region)
}

func (c *Console) onDisconnected(ev session.Disconnected) {
	c.lastPing.Store(-1)
	c.event(red, "disconnected: %s", ev.Cause)
}

func (c *Console) onLobbyReady(session.LobbyReady) {
	c.event(green, "entered lobby")
}

func (c *Console) onRoomListUpdated(ev session.RoomListUpdated) {
	c.event(cyan, "%d rooms listed", len(ev.Snapshot.Rooms))
}

func (c *Console) onJoinedGameRoom(ev session.JoinedGameRoom) {
	c.event(green, "joined room %s as %s", ev.Room, ev.Role)
}

func (c *Console) onRoomOperationFailed(ev session.RoomOperationFailed) {
	c.event(red, "%s failed (%d): %s", ev.Op, ev.Code, ev.Message)
}

func (c *Console) onLatencySampled(ev session.LatencySampled) {
	c.lastPing.Store(int64(ev.Millis))
}

func (c *Console) event(color, format string, args ...any) {
	c.println(c.style.paintf(color, "* "+format, args...))
}

func (c *Console) println(s string) {
	c.print(s + "\n")
}

func (c *Console) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if _, err := io.WriteString(c.out, s); err != nil {
		c.logger.Debug("console write failed", zap.Error(err))
	}
}
