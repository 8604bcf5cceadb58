package session

import (
	"sort"

	"github.com/cory-johannsen/lobby/internal/transport"
)

// RoomSnapshot is a published, read-only view of the room cache.
type RoomSnapshot struct {
	// Generation increases with every mutation of the cache.
	Generation uint64
	// Rooms are sorted by name.
	Rooms []transport.RoomSummary
}

// Names returns the room names in snapshot order.
func (s RoomSnapshot) Names() []string {
	names := make([]string, len(s.Rooms))
	for i, r := range s.Rooms {
		names[i] = r.Name
	}
	return names
}

// RoomCache is the lobby's incrementally maintained room list.
//
// Invariant: no entry's most recent delta marked it removed, invisible, or
// closed.
// Not safe for concurrent use; LobbyCoordinator is its only writer.
type RoomCache struct {
	rooms      map[string]transport.RoomSummary
	generation uint64
}

// NewRoomCache creates an empty RoomCache.
func NewRoomCache() *RoomCache {
	return &RoomCache{rooms: make(map[string]transport.RoomSummary)}
}

// Apply merges a delta batch in order. Unlistable entries are deleted and
// the rest are upserted by name, so the last entry for a name wins.
//
// Postcondition: Applying the same batch again leaves the contents unchanged.
func (c *RoomCache) Apply(batch []transport.RoomSummary) {
	for _, info := range batch {
		if !info.Listable() {
			delete(c.rooms, info.Name)
			continue
		}
		info.Removed = false
		c.rooms[info.Name] = info
	}
	c.generation++
}

// Clear empties the cache.
func (c *RoomCache) Clear() {
	clear(c.rooms)
	c.generation++
}

// Len returns the number of cached rooms.
func (c *RoomCache) Len() int {
	return len(c.rooms)
}

// Get returns the cached summary for name.
//
// Postcondition: Returns (summary, true) if cached, or (zero, false) otherwise.
func (c *RoomCache) Get(name string) (transport.RoomSummary, bool) {
	r, ok := c.rooms[name]
	return r, ok
}

// Snapshot copies the cache into a name-ordered RoomSnapshot.
func (c *RoomCache) Snapshot() RoomSnapshot {
	rooms := make([]transport.RoomSummary, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return RoomSnapshot{Generation: c.generation, Rooms: rooms}
}
