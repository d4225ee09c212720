package relay

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/collabcode/collabsync/internal/wire"
)

const (
	// Time allowed to write a message to a peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next message from a peer.
	pongWait = 60 * time.Second
	// Send websocket pings at this period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Outbound buffer per member; a member that cannot drain it is
	// considered dead and dropped.
	sendBuffer = 256
)

// member is one connected client within a room.
type member struct {
	id   string
	room string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to every subscriber of a room except the sender.
// Payloads are forwarded opaquely: the hub never decodes operations, it
// only reads the envelope to answer liveness traffic and synthesize leave
// notices.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*member

	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*member),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the hub's HTTP routes: the websocket endpoint plus
// health and occupancy probes.
func (h *Hub) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws/{room}", h.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/rooms", h.handleRooms).Methods(http.MethodGet)

	return r
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]

	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		http.Error(w, "client query parameter is required", http.StatusBadRequest)

		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: websocket upgrade failed: %v", err)

		return
	}

	h.serve(room, clientID, conn)
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Hub) handleRooms(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(h.Occupancy()); err != nil {
		log.Printf("hub: encoding room listing failed: %v", err)
	}
}

// Occupancy returns the number of connected clients per room.
func (h *Hub) Occupancy() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		counts[room] = len(members)
	}

	return counts
}

// serve registers the connection, acknowledges the subscription, and
// pumps messages until the peer goes away.
func (h *Hub) serve(room, clientID string, conn *websocket.Conn) {
	m := &member{
		id:   clientID,
		room: room,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.register(m)

	go m.writePump()

	m.readPump(h)
}

func (h *Hub) register(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[m.room] == nil {
		h.rooms[m.room] = make(map[string]*member)
	}

	// A reconnecting client replaces its previous registration.
	if prev, ok := h.rooms[m.room][m.id]; ok {
		close(prev.send)
	}

	h.rooms[m.room][m.id] = m

	// Subscription ack: the connecting client waits for this. Sent under
	// the lock so a same-id reconnect cannot close the channel first; the
	// fresh buffer cannot block.
	if ack, err := wire.New(wire.TypeHello, m.room, m.id, nil); err == nil {
		if data, err := wire.Encode(ack); err == nil {
			m.send <- data
		}
	}

	log.Printf("hub: client %s joined room %s (%d present)", m.id, m.room, len(h.rooms[m.room]))
}

func (h *Hub) unregister(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[m.room]
	if !ok || members[m.id] != m {
		return
	}

	delete(members, m.id)
	close(m.send)

	if len(members) == 0 {
		delete(h.rooms, m.room)
	}
}

// broadcast forwards raw bytes to every member of the room except the
// sender. A member with a full buffer misses the message; the document's
// merge semantics tolerate the loss and the next sync repairs it.
func (h *Hub) broadcast(room string, data []byte, excludeID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, m := range h.rooms[room] {
		if id == excludeID {
			continue
		}

		select {
		case m.send <- data:
		default:
			log.Printf("hub: dropping message for slow client %s in room %s", id, room)
		}
	}
}

// readPump forwards inbound frames to the rest of the room. On exit it
// unregisters the member and synthesizes a leave notice so peers can
// evict the client's presence.
func (m *member) readPump(h *Hub) {
	defer func() {
		h.unregister(m)
		_ = m.conn.Close()

		if leave, err := wire.New(wire.TypeLeave, m.room, m.id, nil); err == nil {
			if data, err := wire.Encode(leave); err == nil {
				h.broadcast(m.room, data, m.id)
			}
		}
	}()

	_ = m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(string) error {
		return m.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("hub: client %s read error: %v", m.id, err)
			}

			return
		}

		_ = m.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := wire.Decode(data)
		if err != nil {
			log.Printf("hub: dropping malformed frame from %s: %v", m.id, err)

			continue
		}

		// Liveness traffic refreshes the deadline but is not forwarded.
		if env.Type == wire.TypePing {
			continue
		}

		h.broadcast(m.room, data, m.id)
	}
}

// writePump drains the outbound buffer and keeps the connection alive
// with websocket pings.
func (m *member) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = m.conn.Close()
	}()

	for {
		select {
		case data, ok := <-m.send:
			_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = m.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
