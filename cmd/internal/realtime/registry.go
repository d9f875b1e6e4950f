package realtime

import (
	"sort"
	"sync"

	"lyceum/cmd/internal/metrics"
)

// roomEntry is one row of the membership table. The room exists exactly as long as it has
// members; the entry is deleted when the last one leaves.
type roomEntry struct {
	members map[string]*Client
}

// Registry is the process-local index of connections, users and rooms.
//
// A single RWMutex guards every map so that joins, leaves and (un)registration are atomic with
// respect to each other. No I/O happens under the lock; fan-out snapshots members under RLock
// and sends outside it.
//
// Invariant: conn ∈ rooms[k].members ⟺ k ∈ joined[conn].
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Client
	users  map[string]map[string]*Client
	rooms  map[RoomKey]*roomEntry
	joined map[string]map[RoomKey]struct{}
}

// UnregisterResult describes what Unregister removed.
type UnregisterResult struct {
	Client           *Client
	UserID           string
	RemainingDevices int
	RoomsLeft        []RoomKey
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Client),
		users:  make(map[string]map[string]*Client),
		rooms:  make(map[RoomKey]*roomEntry),
		joined: make(map[string]map[RoomKey]struct{}),
	}
}

// Register indexes c under its user and joins the personal and role rooms.
// Registering the same connection id twice is a no-op. Returns the user's device count.
func (r *Registry) Register(c *Client) int {
	r.mu.Lock()
	if _, ok := r.conns[c.ID]; !ok {
		r.conns[c.ID] = c
		set := r.users[c.UserID]
		if set == nil {
			set = make(map[string]*Client)
			r.users[c.UserID] = set
		}
		set[c.ID] = c
		r.joinLocked(c, UserRoom(c.UserID))
		if c.Role != "" {
			r.joinLocked(c, RoleRoom(c.Role))
		}
	}
	n := len(r.users[c.UserID])
	conns, users := len(r.conns), len(r.users)
	r.mu.Unlock()

	metrics.SetPresence(conns, users)
	return n
}

// Unregister removes the connection from its user and from every room it joined.
// ok is false when the connection was not registered.
func (r *Registry) Unregister(connID string) (res UnregisterResult, ok bool) {
	r.mu.Lock()
	c, found := r.conns[connID]
	if !found {
		r.mu.Unlock()
		return UnregisterResult{}, false
	}

	for k := range r.joined[connID] {
		r.leaveLocked(connID, k)
		res.RoomsLeft = append(res.RoomsLeft, k)
	}
	delete(r.joined, connID)
	delete(r.conns, connID)

	set := r.users[c.UserID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, c.UserID)
	}

	res.Client = c
	res.UserID = c.UserID
	res.RemainingDevices = len(set)
	conns, users := len(r.conns), len(r.users)
	r.mu.Unlock()

	sortRoomKeys(res.RoomsLeft)
	metrics.SetPresence(conns, users)
	return res, true
}

// Join adds the connection to room k and returns the resulting member count.
// ok is false when the connection is not registered.
func (r *Registry) Join(connID string, k RoomKey) (members int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, found := r.conns[connID]
	if !found {
		return 0, false
	}
	r.joinLocked(c, k)
	return len(r.rooms[k].members), true
}

// Leave removes the connection from room k and returns the remaining member count.
// Leaving a room the connection is not in is a no-op.
func (r *Registry) Leave(connID string, k RoomKey) (members int, wasMember bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasMember = r.leaveLocked(connID, k)
	if e := r.rooms[k]; e != nil {
		members = len(e.members)
	}
	return members, wasMember
}

func (r *Registry) joinLocked(c *Client, k RoomKey) {
	e := r.rooms[k]
	if e == nil {
		e = &roomEntry{members: make(map[string]*Client)}
		r.rooms[k] = e
	}
	e.members[c.ID] = c

	set := r.joined[c.ID]
	if set == nil {
		set = make(map[RoomKey]struct{})
		r.joined[c.ID] = set
	}
	set[k] = struct{}{}
}

func (r *Registry) leaveLocked(connID string, k RoomKey) bool {
	e := r.rooms[k]
	if e == nil {
		return false
	}
	if _, ok := e.members[connID]; !ok {
		return false
	}
	delete(e.members, connID)
	if len(e.members) == 0 {
		delete(r.rooms, k)
	}
	if set := r.joined[connID]; set != nil {
		delete(set, k)
	}
	return true
}

// Client returns the registered connection with the given id.
func (r *Registry) Client(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

func (r *Registry) DeviceCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

func (r *Registry) TotalOnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) MemberCount(k RoomKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.rooms[k]; e != nil {
		return len(e.members)
	}
	return 0
}

func (r *Registry) HasRoom(k RoomKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[k]
	return ok
}

// InRoom reports whether connID is a member of room k.
func (r *Registry) InRoom(connID string, k RoomKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.joined[connID][k]
	return ok
}

// RoomMembers snapshots the members of room k.
func (r *Registry) RoomMembers(k RoomKey) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.rooms[k]
	if e == nil {
		return nil
	}
	return snapshot(e.members)
}

// UserConnections snapshots the connections of userID.
func (r *Registry) UserConnections(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.users[userID])
}

// Connections snapshots every registered connection.
func (r *Registry) Connections() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.conns)
}

// RoomsOf returns the rooms connID has joined, sorted.
func (r *Registry) RoomsOf(connID string) []RoomKey {
	r.mu.RLock()
	out := make([]RoomKey, 0, len(r.joined[connID]))
	for k := range r.joined[connID] {
		out = append(out, k)
	}
	r.mu.RUnlock()

	sortRoomKeys(out)
	return out
}

// Rooms returns every non-empty room, sorted.
func (r *Registry) Rooms() []RoomKey {
	r.mu.RLock()
	out := make([]RoomKey, 0, len(r.rooms))
	for k := range r.rooms {
		out = append(out, k)
	}
	r.mu.RUnlock()

	sortRoomKeys(out)
	return out
}

func snapshot(m map[string]*Client) []*Client {
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func sortRoomKeys(keys []RoomKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
