package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/seenimoa/indexsignal/internal/metrics"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer = 64
)

// Message types on the stream.
const (
	MsgSignal     = "signal"
	MsgSubscribe  = "subscribe"
	MsgSubscribed = "subscribed"
	MsgPing       = "ping"
	MsgPong       = "pong"
	MsgError      = "error"
)

// WSMessage is a message sent over WebSocket connections. Data of a
// subscribe message is a list of index names; an empty list means all.
type WSMessage struct {
	Type  string `json:"type"`
	Index string `json:"index,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// WSHub fans signals out to connected clients.
type WSHub struct {
	mu        sync.Mutex
	clients   map[*WSClient]struct{}
	broadcast chan WSMessage
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	send    chan WSMessage
	indices map[string]bool // nil or empty: every index
}

// NewWSHub creates a new WebSocket hub. m may be nil.
func NewWSHub(log zerolog.Logger, m *metrics.Metrics) *WSHub {
	return &WSHub{
		clients:   make(map[*WSClient]struct{}),
		broadcast: make(chan WSMessage, 256),
		log:       log,
		metrics:   m,
	}
}

// Run delivers broadcasts until ctx is done, then disconnects every client.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(msg.Index) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					h.log.Warn().Msg("dropping slow stream client")
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues msg for every interested client. Messages are dropped
// when the queue is full.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn().Str("type", msg.Type).Msg("stream queue full, message dropped")
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *WSHub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.Clients(n)
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(c *WSClient) {
	h.mu.Lock()
	h.drop(c)
	h.mu.Unlock()
}

// reply sends msg to one client unless it has been dropped.
func (h *WSHub) reply(c *WSClient, msg WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// subscribe replaces the client's index filter.
func (h *WSHub) subscribe(c *WSClient, indices map[string]bool) {
	h.mu.Lock()
	c.indices = indices
	h.mu.Unlock()
}

// drop must be called with h.mu held.
func (h *WSHub) drop(c *WSClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.Clients(len(h.clients))
}

// wants must be called with the hub lock held.
func (c *WSClient) wants(index string) bool {
	return len(c.indices) == 0 || index == "" || c.indices[index]
}

// handleWebSocket upgrades the connection and streams signals to it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &WSClient{send: make(chan WSMessage, sendBuffer)}
	s.wsHub.Register(client)

	go wsWritePump(conn, client, s.log)
	go s.wsReadPump(conn, client)
}

// wsReadPump handles client messages until the connection fails.
func (s *Server) wsReadPump(conn *websocket.Conn, client *WSClient) {
	defer func() {
		s.wsHub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}

		var msg struct {
			Type string   `json:"type"`
			Data []string `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.wsHub.reply(client, WSMessage{Type: MsgError, Data: "malformed message"})
			continue
		}

		switch msg.Type {
		case MsgSubscribe:
			indices, bad := subscription(msg.Data)
			if len(bad) > 0 {
				s.wsHub.reply(client, WSMessage{Type: MsgError, Data: "unsupported index: " + strings.Join(bad, ", ")})
				continue
			}
			s.wsHub.subscribe(client, indices)
			names := make([]string, 0, len(indices))
			for _, sym := range utils.SupportedIndices() {
				if len(indices) == 0 || indices[sym] {
					names = append(names, sym)
				}
			}
			s.wsHub.reply(client, WSMessage{Type: MsgSubscribed, Data: names})
			for _, sym := range names {
				if sig := s.Latest(sym); sig != nil {
					s.wsHub.reply(client, WSMessage{Type: MsgSignal, Index: sym, Data: sig})
				}
			}
		case MsgPing:
			s.wsHub.reply(client, WSMessage{Type: MsgPong})
		}
	}
}

// subscription resolves index names, returning the ones it cannot.
func subscription(names []string) (map[string]bool, []string) {
	set := make(map[string]bool, len(names))
	var bad []string
	for _, n := range names {
		info, ok := utils.NormalizeIndex(n)
		if !ok {
			bad = append(bad, n)
			continue
		}
		set[info.Symbol] = true
	}
	return set, bad
}

// wsWritePump pumps messages from the hub to the WebSocket connection.
func wsWritePump(conn *websocket.Conn, client *WSClient, log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("websocket write")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
