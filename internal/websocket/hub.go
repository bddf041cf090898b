package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/rs/zerolog/log"
)

// Client represents a signaling WebSocket connection
type Client struct {
	ID     uuid.UUID
	RoomID string
	Role   models.PeerRole
	Conn   *websocket.Conn
	Send   chan Response
	Done   chan struct{}

	closeOnce sync.Once
}

func NewClient(roomID string, role models.PeerRole, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.New(),
		RoomID: roomID,
		Role:   role,
		Conn:   conn,
		Send:   make(chan Response, 64),
		Done:   make(chan struct{}),
	}
}

// Enqueue queues a response without blocking the reader.
func (c *Client) Enqueue(resp Response) error {
	select {
	case <-c.Done:
		return ErrClientClosed
	default:
	}
	select {
	case c.Send <- resp:
		return nil
	case <-c.Done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close marks the client done and closes the socket. Safe to call repeatedly.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Done)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// IsConnected checks if client is still connected
func (c *Client) IsConnected() bool {
	select {
	case <-c.Done:
		return false
	default:
		return true
	}
}

// Hub tracks live signaling sockets per room. Messages never flow through
// it; the signaling log is the only shared state. It exists so a room's
// sockets can be dropped when the session ends.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[uuid.UUID]*Client
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[uuid.UUID]*Client),
	}
}

// AddClient registers a client. A second socket for the same room and role
// replaces the first one.
func (h *Hub) AddClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.RoomID]
	if !ok {
		room = make(map[uuid.UUID]*Client)
		h.rooms[client.RoomID] = room
	}
	for id, existing := range room {
		if existing.Role == client.Role && id != client.ID {
			log.Info().Str("module", "hub").Str("room", client.RoomID).Str("role", string(client.Role)).Msg("closing duplicate connection")
			existing.Close()
			delete(room, id)
		}
	}
	room[client.ID] = client
}

// RemoveClient removes a client from its room
func (h *Hub) RemoveClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.RoomID]
	if !ok {
		return
	}
	if current, ok := room[client.ID]; ok && current == client {
		delete(room, client.ID)
	}
	if len(room) == 0 {
		delete(h.rooms, client.RoomID)
	}
}

// CloseRoom closes every socket of the room.
func (h *Hub) CloseRoom(roomID string) {
	h.mu.Lock()
	room := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	for _, client := range room {
		client.Close()
	}
	if len(room) > 0 {
		log.Info().Str("module", "hub").Str("room", roomID).Int("clients", len(room)).Msg("room closed")
	}
}

// Count returns the number of live sockets in the room.
func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// CloseAll closes every socket, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[uuid.UUID]*Client)
	h.mu.Unlock()

	for _, room := range rooms {
		for _, client := range room {
			client.Close()
		}
	}
}
