package transport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsReadLimit bounds a single frame; longer messages close the socket.
// Messages between maxLine and this limit are rejected but keep the socket.
const wsReadLimit = 4096

// WSHandler accepts command lines as WebSocket text messages. A new socket
// supersedes the previous one.
type WSHandler struct {
	upgrader websocket.Upgrader
	maxLine  int
	ack      bool
	inbox    *Inbox
	hooks    Hooks
	log      *slog.Logger

	mu      sync.Mutex
	current *wsConn
	closed  bool
	wg      sync.WaitGroup
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	*websocket.Conn
	wmu sync.Mutex
}

func (c *wsConn) writeText(msg string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(ackWriteTimeout))
	return c.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *wsConn) closeWith(code int, reason string) {
	c.wmu.Lock()
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(ackWriteTimeout))
	c.wmu.Unlock()
	c.Close()
}

// NewWSHandler creates a handler offering messages to inbox.
func NewWSHandler(maxLine int, ack bool, inbox *Inbox, log *slog.Logger, hooks Hooks) *WSHandler {
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		maxLine: maxLine,
		ack:     ack,
		inbox:   inbox,
		hooks:   hooks,
		log:     log,
	}
}

// ServeHTTP upgrades the request and reads messages until the socket closes.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := &wsConn{Conn: raw}
	raw.SetReadLimit(wsReadLimit)

	h.wg.Add(1)
	defer h.wg.Done()

	source := raw.RemoteAddr().String()
	h.adopt(conn, source)
	defer h.release(conn)

	var reply func(string) error
	if h.ack {
		reply = conn.writeText
	}

	for {
		kind, msg, err := raw.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			h.hooks.reject(NameWS, source, ReasonBinary)
			continue
		}
		if len(msg) > h.maxLine {
			h.log.Warn("Discarded over-length message", "remote", source, "max", h.maxLine)
			h.hooks.reject(NameWS, source, ReasonOverLength)
			continue
		}

		h.hooks.line(NameWS)
		h.inbox.Offer(Line{
			Text:      string(msg),
			Source:    source,
			Transport: NameWS,
			Reply:     reply,
		})
	}
}

func (h *WSHandler) adopt(conn *wsConn, source string) {
	h.mu.Lock()
	prev := h.current
	h.current = conn
	h.mu.Unlock()

	if prev != nil {
		prevSource := prev.RemoteAddr().String()
		h.log.Info("WebSocket client superseded", "previous", prevSource, "remote", source)
		h.hooks.supersede(NameWS, prevSource)
		prev.closeWith(websocket.ClosePolicyViolation, "superseded")
	}
	h.log.Info("WebSocket client connected", "remote", source)
}

func (h *WSHandler) release(conn *wsConn) {
	h.mu.Lock()
	if h.current == conn {
		h.current = nil
	}
	h.mu.Unlock()
	conn.Close()
}

// Close disconnects the active socket and refuses new ones.
func (h *WSHandler) Close() error {
	h.mu.Lock()
	h.closed = true
	cur := h.current
	h.mu.Unlock()

	if cur != nil {
		cur.closeWith(websocket.CloseGoingAway, "shutdown")
	}
	h.wg.Wait()
	return nil
}
