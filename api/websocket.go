package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // single-operator tool; restrict behind a reverse proxy if exposed
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSMessage is one frame on the stream.
type WSMessage struct {
	Type string `json:"type"` // "trade", "analysis"
	Data any    `json:"data,omitempty"`
}

// WSHub broadcasts executed trades and fresh analyses to connected
// clients. Slow clients are dropped rather than blocking the hub.
type WSHub struct {
	mu        sync.Mutex
	clients   map[chan WSMessage]struct{}
	broadcast chan WSMessage
	log       zerolog.Logger
}

// NewWSHub creates the hub.
func NewWSHub(log zerolog.Logger) *WSHub {
	return &WSHub{
		clients:   make(map[chan WSMessage]struct{}),
		broadcast: make(chan WSMessage, 64),
		log:       log.With().Str("component", "ws").Logger(),
	}
}

// Run pumps broadcasts to clients. Blocks; run in a goroutine.
func (h *WSHub) Run() {
	for msg := range h.broadcast {
		h.mu.Lock()
		for ch := range h.clients {
			select {
			case ch <- msg:
			default:
				delete(h.clients, ch)
				close(ch)
			}
		}
		h.mu.Unlock()
	}
}

// Broadcast enqueues a frame for all clients, dropping it when the
// hub's buffer is full.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// NotifyTrade is the executor's trade sink.
func (h *WSHub) NotifyTrade(t models.Trade) {
	h.Broadcast(WSMessage{Type: "trade", Data: t})
}

func (h *WSHub) register() chan WSMessage {
	ch := make(chan WSMessage, 32)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *WSHub) unregister(ch chan WSMessage) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// handleWebSocket upgrades the connection and streams hub frames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	ch := s.wsHub.register()

	// Reader: only keepalive traffic is expected from clients.
	go func() {
		defer s.wsHub.unregister(ch)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Writer.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer func() {
			ticker.Stop()
			conn.Close()
		}()
		for {
			select {
			case msg, ok := <-ch:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}
