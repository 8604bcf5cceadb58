package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/lobby/internal/transport"
)

// fakeTransport records every request and answers queries from fields the
// test controls. Callbacks are driven by the test directly.
type fakeTransport struct {
	mu        sync.Mutex
	calls     []string
	options   []transport.RoomOptions
	connected bool
	joining   bool
	authority bool
	latency   int
	fail      map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: make(map[string]error)}
}

func (f *fakeTransport) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	name, _, _ := strings.Cut(call, ":")
	return f.fail[name]
}

func (f *fakeTransport) ConnectWithoutFixedRegion(autoSyncScene bool) error {
	return f.record(fmt.Sprintf("connect_name_server:%t", autoSyncScene))
}

func (f *fakeTransport) ConnectToRegion(code string) error {
	return f.record("connect_region:" + code)
}

func (f *fakeTransport) Disconnect() error {
	return f.record("disconnect")
}

func (f *fakeTransport) JoinLobby() error {
	return f.record("join_lobby")
}

func (f *fakeTransport) CreateRoom(name string, opts transport.RoomOptions) error {
	f.mu.Lock()
	f.options = append(f.options, opts)
	f.mu.Unlock()
	return f.record("create_room:" + name)
}

func (f *fakeTransport) JoinRoom(name string) error {
	return f.record("join_room:" + name)
}

func (f *fakeTransport) LoadScene(name string) error {
	return f.record("load_scene:" + name)
}

func (f *fakeTransport) Latency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latency
}

func (f *fakeTransport) IsJoining() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joining
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) IsAuthority() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authority
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// count returns how many recorded calls start with prefix.
func (f *fakeTransport) count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// recorder collects published events of one type.
type recorder[E any] struct {
	mu     sync.Mutex
	events []E
	ch     chan E
}

func record[E any](b *Bus) *recorder[E] {
	r := &recorder[E]{ch: make(chan E, 64)}
	Subscribe(b, func(ev E) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		select {
		case r.ch <- ev:
		default:
		}
	})
	return r
}

func (r *recorder[E]) All() []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]E, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder[E]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// next waits for the next event delivered after the last call to next.
func (r *recorder[E]) next(t *testing.T) E {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		var zero E
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

func defaultSettings() RoomSettings {
	return RoomSettings{
		Capacity:    4,
		Visible:     true,
		Open:        true,
		ExpiryGrace: 0,
		GameScene:   "02_GameScene",
	}
}

func regions(pairs ...any) []transport.Region {
	out := make([]transport.Region, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, transport.Region{Code: pairs[i].(string), Latency: pairs[i+1].(int)})
	}
	return out
}
