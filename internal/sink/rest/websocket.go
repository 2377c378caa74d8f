package rest

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/SMSLab-dev/mtconnect-agent/internal/agent"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
	"github.com/SMSLab-dev/mtconnect-agent/internal/printer"
	"github.com/SMSLab-dev/mtconnect-agent/internal/sink"
)

// wsSendBufferSize is the per-client outbound buffer; a slow client drops
// frames rather than blocking the publisher.
const wsSendBufferSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// hub fans admitted observations out to WebSocket clients as standalone
// JSON documents.
type hub struct {
	logger  sink.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(logger sink.Logger) *hub {
	return &hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// run blocks until the context is cancelled, then closes every client.
func (h *hub) run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// unregister removes a client. Only the goroutine that removes it from the
// map closes the send channel, preventing double-close during shutdown.
func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
}

// broadcastObservation renders the observation once and queues it on every
// client, dropping frames for clients that cannot keep up.
func (h *hub) broadcastObservation(a *agent.Agent, obs *observation.Observation) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	jp, ok := a.Printer("json").(*printer.JSONPrinter)
	if !ok {
		return
	}
	payload, err := jp.PrintObservation(obs)
	if err != nil {
		h.logger.Error("rendering websocket observation", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Slow client: drop the frame.
		}
	}
}

// handleWebSocket upgrades the connection and streams observations.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
	s.hub.register(client)

	go s.writeLoop(client)
	go s.readLoop(client)
}

// writeLoop drains the send channel to the socket.
func (s *Server) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	// Channel closed: shutdown.
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "agent stopping"))
}

// readLoop discards inbound frames until the client goes away.
func (s *Server) readLoop(c *wsClient) {
	defer s.hub.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
