// Package rooms owns the in-memory room registry and its membership rules.
//
// Lock order is room.mu before Registry.mu. The registry lock is never held
// while acquiring a room lock, so a room's mutations are serialised by its
// own mutex and unrelated rooms never contend.
package rooms

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the participant limit, host included.
const DefaultCapacity = 5

// Registry stores active rooms keyed by code plus a connection -> code index.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	byConn map[string]string

	capacity int
	newCode  func() string
	now      func() time.Time
	log      *logrus.Entry
}

// Option customises a Registry.
type Option func(*Registry)

// WithCodeGenerator replaces the random code source (tests use it to force collisions).
func WithCodeGenerator(gen func() string) Option {
	return func(r *Registry) { r.newCode = gen }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns an empty registry. A capacity below 2 falls back to DefaultCapacity.
func NewRegistry(capacity int, opts ...Option) *Registry {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	r := &Registry{
		rooms:    make(map[string]*Room),
		byConn:   make(map[string]string),
		capacity: capacity,
		newCode:  GenerateCode,
		now:      time.Now,
		log:      logrus.WithField("component", "rooms"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Capacity returns the configured participant limit.
func (r *Registry) Capacity() int {
	return r.capacity
}

// CreateRoom stores a new room hosted by hostID and returns it. It never
// fails; codes are regenerated until one is free. Callers must run the
// departure path first if hostID already belongs to a room.
func (r *Registry) CreateRoom(hostID string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.newCode()
	for {
		if _, taken := r.rooms[code]; !taken {
			break
		}
		r.log.WithField("room_id", code).Debug("Room code collision, regenerating")
		code = r.newCode()
	}

	room := newRoom(code, hostID, r.capacity, r.now())
	r.rooms[code] = room
	r.byConn[hostID] = code

	r.log.WithFields(logrus.Fields{"room_id": code, "conn_id": hostID}).Info("Room created")
	return room.snapshotLocked()
}

// GetRoom returns the room with the given code.
func (r *Registry) GetRoom(code string) (Snapshot, bool) {
	room := r.lookup(code)
	if room == nil {
		return Snapshot{}, false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return Snapshot{}, false
	}
	return room.snapshotLocked(), true
}

// GetRoomByParticipant returns the room connID currently belongs to.
func (r *Registry) GetRoomByParticipant(connID string) (Snapshot, bool) {
	r.mu.RLock()
	code, ok := r.byConn[connID]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return r.GetRoom(code)
}

// Join adds connID to the room. Checks run in order: existence, capacity,
// duplicate membership, membership elsewhere. The whole check-and-append
// happens under the room lock so concurrent joins for the last slot yield
// exactly one success.
func (r *Registry) Join(code, connID string) (Snapshot, error) {
	room := r.lookup(code)
	if room == nil {
		return Snapshot{}, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return Snapshot{}, ErrRoomNotFound
	}
	if len(room.participants) >= room.Capacity {
		return Snapshot{}, ErrRoomFull
	}
	if room.hasLocked(connID) {
		return Snapshot{}, ErrAlreadyJoined
	}
	if err := r.claim(connID, code); err != nil {
		return Snapshot{}, err
	}

	room.participants = append(room.participants, connID)
	return room.snapshotLocked(), nil
}

// Leave removes connID from the room and deletes the room once empty.
// It reports whether connID was actually removed; repeated calls are no-ops.
func (r *Registry) Leave(code, connID string) (Snapshot, bool) {
	room := r.lookup(code)
	if room == nil {
		return Snapshot{}, false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return Snapshot{}, false
	}
	if removed, _ := r.leaveLocked(room, connID); !removed {
		return Snapshot{}, false
	}
	return room.snapshotLocked(), true
}

// leaveLocked removes connID from room, releases its index entry and closes
// the room once nobody is left. Caller holds the room lock.
func (r *Registry) leaveLocked(room *Room, connID string) (removed, deleted bool) {
	if !room.removeLocked(connID) {
		return false, false
	}
	r.release(room.Code, connID)

	if len(room.participants) == 0 {
		r.closeLocked(room)
		return true, true
	}
	return true, false
}

// Departure describes what a disconnect did to the owning room.
type Departure struct {
	// Room is the state after the departure. For a host departure it holds
	// the participants that were still present when the room was closed.
	Room    Snapshot
	WasHost bool
	Deleted bool
}

// Depart applies a connection's departure to whichever room owns it. Host
// departure always closes the room; listener departure shrinks it. The
// second return is false when connID belonged to no room.
func (r *Registry) Depart(connID string) (Departure, bool) {
	r.mu.RLock()
	code, ok := r.byConn[connID]
	r.mu.RUnlock()
	if !ok {
		return Departure{}, false
	}

	room := r.lookup(code)
	if room == nil {
		return Departure{}, false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || !room.hasLocked(connID) {
		return Departure{}, false
	}

	if connID == room.HostID {
		room.removeLocked(connID)
		snap := room.snapshotLocked()
		r.closeLocked(room)
		return Departure{Room: snap, WasHost: true, Deleted: true}, true
	}

	_, deleted := r.leaveLocked(room, connID)
	return Departure{Room: room.snapshotLocked(), Deleted: deleted}, true
}

// DeleteRoom removes the room and returns its final state. Deleting an
// unknown or already deleted room is a no-op.
func (r *Registry) DeleteRoom(code string) (Snapshot, bool) {
	room := r.lookup(code)
	if room == nil {
		return Snapshot{}, false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return Snapshot{}, false
	}
	snap := room.snapshotLocked()
	r.closeLocked(room)
	return snap, true
}

// SetCurrentSong stores an opaque song payload published by a member.
func (r *Registry) SetCurrentSong(code, connID string, song json.RawMessage) (Snapshot, error) {
	room := r.lookup(code)
	if room == nil {
		return Snapshot{}, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return Snapshot{}, ErrRoomNotFound
	}
	if !room.hasLocked(connID) {
		return Snapshot{}, ErrNotMember
	}
	room.currentSong = append(json.RawMessage(nil), song...)
	return room.snapshotLocked(), nil
}

// SetSharing flips the room's external sharing flag. Host only.
func (r *Registry) SetSharing(code, connID string, enabled bool) (Snapshot, error) {
	room := r.lookup(code)
	if room == nil {
		return Snapshot{}, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return Snapshot{}, ErrRoomNotFound
	}
	if connID != room.HostID {
		return Snapshot{}, ErrNotHost
	}
	room.sharing = enabled
	return room.snapshotLocked(), nil
}

// List returns every active room, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	all := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		all = append(all, room)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, room := range all {
		room.mu.Lock()
		if !room.closed {
			out = append(out, room.snapshotLocked())
		}
		room.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of active rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) lookup(code string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[code]
}

// claim records connID as a member of code. Caller holds the room lock.
func (r *Registry) claim(connID, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byConn[connID]; ok && existing != code {
		return ErrAlreadyInRoom
	}
	r.byConn[connID] = code
	return nil
}

// release drops connID from the index if it still points at code.
func (r *Registry) release(code, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byConn[connID] == code {
		delete(r.byConn, connID)
	}
}

// closeLocked marks the room closed and unlinks it and its members from the
// registry. Caller holds the room lock.
func (r *Registry) closeLocked(room *Room) {
	room.closed = true

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range room.participants {
		if r.byConn[id] == room.Code {
			delete(r.byConn, id)
		}
	}
	if r.byConn[room.HostID] == room.Code {
		delete(r.byConn, room.HostID)
	}
	if r.rooms[room.Code] == room {
		delete(r.rooms, room.Code)
	}
	r.log.WithField("room_id", room.Code).Info("Room deleted")
}
