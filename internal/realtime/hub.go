// internal/realtime/hub.go
//
// WebSocket fan-out for live sessions.
// Responsibilities:
//   - Track connections per session code (rooms).
//   - Route engine events: public ones to the whole room, addressed ones to
//     the connections of a single player.
//   - Run the per-connection read and write pumps.
//
// Sends never block the caller: every connection owns a buffered queue and a
// full queue drops the message. A slow client cannot stall a session.

package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/mafia/server/internal/game"
)

const (
	EventError = "error"

	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// Message is the wire envelope for every outbound frame.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Conn is one client connection bound to a seat.
type Conn struct {
	ID     string
	Code   string
	Player string

	ws *websocket.Conn

	mu     sync.Mutex // guards send against close
	send   chan []byte
	closed bool
}

// NewConn wraps ws (which may be nil in tests) for player in session code.
func NewConn(code, player string, ws *websocket.Conn) *Conn {
	return &Conn{
		ID:     uuid.NewString(),
		Code:   code,
		Player: player,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
	}
}

// Outbound exposes the queued frames.
func (c *Conn) Outbound() <-chan []byte { return c.send }

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// offer queues b unless the connection is closed or its queue is full.
func (c *Conn) offer(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Hub holds every live connection grouped by session.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Conn
	conns map[string]*Conn
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*Conn),
		conns: make(map[string]*Conn),
	}
}

// Join adds c to the room for code.
func (h *Hub) Join(code string, c *Conn) {
	h.mu.Lock()
	room, ok := h.rooms[code]
	if !ok {
		room = make(map[string]*Conn)
		h.rooms[code] = room
	}
	room[c.ID] = c
	h.conns[c.ID] = c
	n := len(room)
	h.mu.Unlock()

	log.Info().Str("code", code).Str("player", c.Player).Str("conn", c.ID).Int("room", n).Msg("ws connected")
}

// Leave removes c and closes its queue. Calling it twice is harmless.
func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.ID]
	if ok {
		delete(h.conns, c.ID)
		if room := h.rooms[c.Code]; room != nil {
			delete(room, c.ID)
			if len(room) == 0 {
				delete(h.rooms, c.Code)
			}
		}
	}
	h.mu.Unlock()

	c.close()
	if ok {
		log.Info().Str("code", c.Code).Str("player", c.Player).Str("conn", c.ID).Msg("ws disconnected")
	}
}

// CloseSession drops every connection of code.
func (h *Hub) CloseSession(code string) {
	h.mu.Lock()
	room := h.rooms[code]
	delete(h.rooms, code)
	for id := range room {
		delete(h.conns, id)
	}
	h.mu.Unlock()

	for _, c := range room {
		c.close()
	}
}

// RoomSize reports the number of connections in code.
func (h *Hub) RoomSize(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// BroadcastToSession sends one event to every connection of code.
func (h *Hub) BroadcastToSession(code, event string, payload any) {
	b, ok := encode(event, payload)
	if !ok {
		return
	}
	for _, c := range h.room(code, "") {
		h.enqueue(c, b)
	}
}

// SendToConnection sends one event to a single connection.
func (h *Hub) SendToConnection(connID, event string, payload any) {
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	if b, ok := encode(event, payload); ok {
		h.enqueue(c, b)
	}
}

// Publish routes engine events for code. Events addressed to a player only
// reach that player's connections.
func (h *Hub) Publish(code string, events []game.Event) {
	for _, ev := range events {
		b, ok := encode(ev.Name, ev.Payload)
		if !ok {
			continue
		}
		for _, c := range h.room(code, ev.To) {
			h.enqueue(c, b)
		}
	}
}

// room snapshots the recipients under the read lock so sends happen unlocked.
func (h *Hub) room(code, player string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.rooms[code]))
	for _, c := range h.rooms[code] {
		if player == "" || c.Player == player {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) enqueue(c *Conn, b []byte) {
	if !c.offer(b) {
		log.Warn().Str("code", c.Code).Str("player", c.Player).Str("conn", c.ID).Msg("ws send queue full, dropping message")
	}
}

func encode(event string, payload any) ([]byte, bool) {
	b, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode ws message")
		return nil, false
	}
	return b, true
}

// Serve runs the pumps for c, which must already have joined, until the
// client goes away. Every inbound frame is passed to handle; its return
// value, when non-nil, is sent back to c only. Serve returns after the
// connection has left the hub.
func (h *Hub) Serve(c *Conn, handle func(c *Conn, data []byte) *Message) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()

	h.readPump(c, handle)
	h.Leave(c)
	<-done
}

func (h *Hub) readPump(c *Conn, handle func(c *Conn, data []byte) *Message) {
	c.ws.SetReadLimit(maxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn", c.ID).Msg("ws read")
			}
			return
		}
		if reply := handle(c, data); reply != nil {
			h.SendToConnection(c.ID, reply.Event, reply.Payload)
		}
	}
}

func (h *Hub) writePump(c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debug().Err(err).Str("conn", c.ID).Msg("ws write")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
