package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"mail-service/internal/models"
)

// Hub is the in-process connection registry. It owns the room maps,
// which are mutated only under its lock: per-user rooms, per-tenant
// rooms, and per-channel rooms a connection explicitly joins. A user
// may hold several connections at once (multi-device).
type Hub struct {
	mu       sync.RWMutex
	users    map[int64]map[*Conn]struct{}
	tenants  map[int64]map[*Conn]struct{}
	channels map[int64]map[*Conn]struct{}
	joined   map[*Conn]map[int64]struct{}

	log *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		users:    make(map[int64]map[*Conn]struct{}),
		tenants:  make(map[int64]map[*Conn]struct{}),
		channels: make(map[int64]map[*Conn]struct{}),
		joined:   make(map[*Conn]map[int64]struct{}),
		log:      log,
	}
}

// Register adds a connection to its user room and, when the tenant is
// known, the tenant room.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addToRoom(h.users, c.UserID, c)
	if c.TenantID != 0 {
		addToRoom(h.tenants, c.TenantID, c)
	}
	h.joined[c] = make(map[int64]struct{})
}

// Unregister removes a connection from every room. Unregistering an
// unknown connection is a no-op.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removeFromRoom(h.users, c.UserID, c)
	if c.TenantID != 0 {
		removeFromRoom(h.tenants, c.TenantID, c)
	}
	for channelID := range h.joined[c] {
		removeFromRoom(h.channels, channelID, c)
	}
	delete(h.joined, c)
}

// JoinChannel adds the connection to a channel room.
func (h *Hub) JoinChannel(c *Conn, channelID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.joined[c]; !ok {
		return
	}
	addToRoom(h.channels, channelID, c)
	h.joined[c][channelID] = struct{}{}
}

// LeaveChannel removes the connection from a channel room.
func (h *Hub) LeaveChannel(c *Conn, channelID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removeFromRoom(h.channels, channelID, c)
	if rooms, ok := h.joined[c]; ok {
		delete(rooms, channelID)
	}
}

// InChannel reports whether the connection has joined the channel room.
func (h *Hub) InChannel(c *Conn, channelID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[c][channelID]
	return ok
}

// SendToUser pushes an event to all of a user's connections.
func (h *Hub) SendToUser(userID int64, ev models.Event) {
	h.fanOut(h.snapshot(h.users, userID), ev, 0)
}

// SendToChannel pushes an event to every connection in a channel room.
func (h *Hub) SendToChannel(channelID int64, ev models.Event) {
	h.fanOut(h.snapshot(h.channels, channelID), ev, 0)
}

// SendToChannelExcept pushes to a channel room, skipping one user's
// connections.
func (h *Hub) SendToChannelExcept(channelID, exceptUserID int64, ev models.Event) {
	h.fanOut(h.snapshot(h.channels, channelID), ev, exceptUserID)
}

// SendToTenant pushes an event to every connection of a tenant.
func (h *Hub) SendToTenant(tenantID int64, ev models.Event) {
	h.fanOut(h.snapshot(h.tenants, tenantID), ev, 0)
}

// Broadcast pushes an event to every registered connection. Used
// rarely, e.g. for system announcements.
func (h *Hub) Broadcast(ev models.Event) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.joined))
	for c := range h.joined {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	h.fanOut(conns, ev, 0)
}

func (h *Hub) snapshot(rooms map[int64]map[*Conn]struct{}, id int64) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := rooms[id]
	conns := make([]*Conn, 0, len(room))
	for c := range room {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) fanOut(conns []*Conn, ev models.Event, exceptUserID int64) {
	if len(conns) == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	for _, c := range conns {
		if exceptUserID != 0 && c.UserID == exceptUserID {
			continue
		}
		c.enqueue(payload)
	}
}

func addToRoom(rooms map[int64]map[*Conn]struct{}, id int64, c *Conn) {
	if _, ok := rooms[id]; !ok {
		rooms[id] = make(map[*Conn]struct{})
	}
	rooms[id][c] = struct{}{}
}

func removeFromRoom(rooms map[int64]map[*Conn]struct{}, id int64, c *Conn) {
	if conns, ok := rooms[id]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(rooms, id)
		}
	}
}
