// Package presence tracks every live connection per user and routes
// server events to them. The registry is purely ephemeral: it is the
// only shared mutable in-process state, and never a source of truth
// for anything persisted.
package presence

import (
	"sync"

	"teamwire/pkg/logger"
	"teamwire/pkg/metrics"
)

// OrgRoom returns the room id every connection of an organization
// joins at registration.
func OrgRoom(orgID string) string { return "org:" + orgID }

// Registry is the process-wide connection map. All mutations are
// self-contained single operations with no interleaved I/O, so a fast
// reconnect can never race a slow disconnect cleanup.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[*Conn]struct{}
	byID   map[string]*Conn
	rooms  map[string]map[*Conn]struct{}

	sendBuffer int
	maxPooled  int64
}

// NewRegistry creates a registry. sendBuffer is the per-connection
// outbound buffer; maxPooled caps broadcast buffers returned to the
// pool.
func NewRegistry(sendBuffer int, maxPooled int64) *Registry {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	if maxPooled <= 0 {
		maxPooled = 256 * 1024
	}
	return &Registry{
		byUser:     make(map[string]map[*Conn]struct{}),
		byID:       make(map[string]*Conn),
		rooms:      make(map[string]map[*Conn]struct{}),
		sendBuffer: sendBuffer,
		maxPooled:  maxPooled,
	}
}

// NewConn builds a connection with the registry's configured outbound
// buffer, ready to Register.
func (r *Registry) NewConn(id, user, org, role string, sink Sink) *Conn {
	return NewConn(id, user, org, role, sink, r.sendBuffer)
}

// Register adds a connection to the registry, its user set and its
// organization room, and starts the connection's write pump.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	if _, dup := r.byID[c.ID]; dup {
		r.mu.Unlock()
		return
	}
	r.byID[c.ID] = c
	set, ok := r.byUser[c.User]
	if !ok {
		set = make(map[*Conn]struct{})
		r.byUser[c.User] = set
		metrics.UsersOnline.Inc()
	}
	set[c] = struct{}{}
	r.joinRoomLocked(OrgRoom(c.Org), c)
	r.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	go c.run()
	logger.Info("connection_registered", "conn", c.ID, "user", c.User, "org", c.Org)
}

// Unregister removes a connection from the registry and every room it
// joined. It is idempotent and never raises for a connection that was
// never registered, so a rapid reconnect racing a disconnect cleanup
// is harmless.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	if _, ok := r.byID[c.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, c.ID)
	if set, ok := r.byUser[c.User]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.byUser, c.User)
			metrics.UsersOnline.Dec()
		}
	}
	for room := range c.rooms {
		r.leaveRoomLocked(room, c)
	}
	r.mu.Unlock()

	c.stop()
	metrics.ConnectionsActive.Dec()
	logger.Info("connection_unregistered", "conn", c.ID, "user", c.User)
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// JoinRoom adds the connection to an ad hoc room (call rooms). User and
// organization rooms are joined implicitly at registration.
func (r *Registry) JoinRoom(roomID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; !ok {
		return
	}
	r.joinRoomLocked(roomID, c)
}

// LeaveRoom removes the connection from a room; leaving a room never
// joined is a no-op.
func (r *Registry) LeaveRoom(roomID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveRoomLocked(roomID, c)
}

func (r *Registry) joinRoomLocked(roomID string, c *Conn) {
	set, ok := r.rooms[roomID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.rooms[roomID] = set
	}
	set[c] = struct{}{}
	c.rooms[roomID] = struct{}{}
}

func (r *Registry) leaveRoomLocked(roomID string, c *Conn) {
	if set, ok := r.rooms[roomID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.rooms, roomID)
		}
	}
	delete(c.rooms, roomID)
}

// RoomUsers returns the distinct user ids present in a room.
func (r *Registry) RoomUsers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for c := range r.rooms[roomID] {
		if _, dup := seen[c.User]; !dup {
			seen[c.User] = struct{}{}
			out = append(out, c.User)
		}
	}
	return out
}

// SendToUser fans an event out to every live connection of the user.
// All devices see the same event; delivery per connection is best
// effort.
func (r *Registry) SendToUser(userID, eventType string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.deliverLocked(connSet(r.byUser[userID]), eventType, payload, "")
}

// SendToUsers fans an event out to every connection of each listed
// user.
func (r *Registry) SendToUsers(userIDs []string, eventType string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var targets []*Conn
	for _, u := range userIDs {
		targets = append(targets, connSet(r.byUser[u])...)
	}
	r.deliverLocked(targets, eventType, payload, "")
}

// SendToOrg fans an event out to every connection in the organization
// room.
func (r *Registry) SendToOrg(orgID, eventType string, payload any) {
	r.SendToRoom(OrgRoom(orgID), eventType, payload)
}

// SendToConn pushes an event to exactly one connection, for replies and
// errors that only the requesting device should see.
func (r *Registry) SendToConn(c *Conn, eventType string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.deliverLocked([]*Conn{c}, eventType, payload, "")
}

// SendToRoom fans an event out to every connection in a room.
func (r *Registry) SendToRoom(roomID, eventType string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.deliverLocked(connSet(r.rooms[roomID]), eventType, payload, "")
}

// SendToRoomExcept fans an event to a room, skipping one connection
// (the actor's own device that triggered it).
func (r *Registry) SendToRoomExcept(roomID, exceptConnID, eventType string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.deliverLocked(connSet(r.rooms[roomID]), eventType, payload, exceptConnID)
}

// deliverLocked marshals the event once and enqueues the shared frame
// on every target connection. Caller holds at least the read lock; the
// enqueue itself never blocks and never performs I/O.
func (r *Registry) deliverLocked(targets []*Conn, eventType string, payload any, exceptConnID string) {
	n := 0
	for _, c := range targets {
		if c.ID != exceptConnID {
			n++
		}
	}
	if n == 0 {
		return
	}
	f, err := newFrame(eventType, payload, n, r.maxPooled)
	if err != nil {
		logger.Error("event_marshal_failed", "type", eventType, "error", err)
		return
	}
	for _, c := range targets {
		if c.ID == exceptConnID {
			continue
		}
		if c.enqueue(f) {
			metrics.EventsFannedOut.WithLabelValues(eventType).Inc()
		} else {
			metrics.FanoutDrops.Inc()
			logger.Warn("fanout_drop", "conn", c.ID, "user", c.User, "type", eventType)
		}
	}
}

func connSet(m map[*Conn]struct{}) []*Conn {
	if len(m) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

// Counts returns the number of live connections and online users.
func (r *Registry) Counts() (conns, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID), len(r.byUser)
}
