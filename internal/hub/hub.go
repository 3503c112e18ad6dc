// Package hub implements the Broadcast Hub: the WebSocket-like push channel
// that fans events out to connected dashboard clients. Structurally this
// follows the teacher's internal/ws package (Broadcaster + Server split, a
// buffered per-client send channel drained by a writePump goroutine,
// non-blocking sends that drop slow clients) generalized to the admission
// policy, heartbeat, and client-request dispatch spec.md §4.9 requires.
package hub

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentwatch/hub/internal/xlog"
)

const (
	MaxClients = 10

	MaxFrameBytes    = 100 * 1024
	ClientMsgMax     = 100
	ClientMsgWindow  = time.Second
	InvalidMsgLimit  = 5
	HeartbeatPeriod  = 30 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	sendBufferSize   = 64
)

// PlanRequestDispatcher handles a client's plan_request{path} message and
// replies on the given send function. Registered once by the process that
// owns the plan watcher.
type PlanRequestDispatcher func(path string, respond func(event interface{}))

// OnConnect is invoked synchronously right after admission, before the
// connection starts accepting inbound frames, so the caller can push the
// full connect-time snapshot (known sessions, subagent mapping, plan list,
// team/task state) via respond.
type OnConnect func(respond func(event interface{}))

type clientRequest struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Hub holds the set of connected clients and the monotonic sequence counter
// every outbound envelope is stamped with.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	seq     atomic.Uint64

	allowedOrigins map[string]bool
	clientSeq      atomic.Uint64

	planDispatcher PlanRequestDispatcher
	onConnect      OnConnect

	log *xlog.Logger

	heartbeatStop chan struct{}
	heartbeatOnce sync.Once
}

func New(allowedOrigins []string, logger *xlog.Logger) *Hub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	h := &Hub{
		clients:        make(map[*Client]struct{}),
		allowedOrigins: origins,
		log:            logger,
		heartbeatStop:  make(chan struct{}),
	}
	go h.heartbeatLoop()
	return h
}

func (h *Hub) SetPlanDispatcher(d PlanRequestDispatcher) { h.planDispatcher = d }
func (h *Hub) SetOnConnect(cb OnConnect)                 { h.onConnect = cb }

// Client is the per-connection state described in spec.md §4.9.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	connTime time.Time

	invalidCount atomic.Int32
	isAlive      atomic.Bool

	winMu      sync.Mutex
	winStart   time.Time
	winCount   int

	closeOnce sync.Once
}

func (c *Client) ID() string { return c.id }

// newClientID combines a monotonically increasing counter with a random
// suffix, per spec.md §4.9's "client id (monotonic + random)" requirement.
func newClientID(n uint64) string {
	return strconv.FormatUint(n, 10) + "-" + uuid.NewString()[:8]
}

var upgrader = websocket.Upgrader{}

// ServeHTTP upgrades the request to a WebSocket connection and runs the
// client's read/write pumps. It applies the admission policy first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.admit(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("ws upgrade failed: %v", err)
		return
	}

	c := &Client{
		id:       newClientID(h.clientSeq.Add(1)),
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		connTime: time.Now(),
	}
	c.isAlive.Store(true)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		c.isAlive.Store(true)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	h.mu.Lock()
	full := len(h.clients) >= MaxClients
	if !full {
		h.clients[c] = struct{}{}
	}
	h.mu.Unlock()

	if full {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go c.writePump()

	h.sendToClient(c, connectionStatusEvent("connected", h.ClientCount()))
	if h.onConnect != nil {
		h.onConnect(func(event interface{}) { h.sendToClient(c, event) })
	}

	c.readPump(h)
}

func (h *Hub) admit(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return isLoopback(r.RemoteAddr)
	}
	return h.allowedOrigins[origin]
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer h.removeClient(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if len(data) > MaxFrameBytes {
			h.closeClient(c, websocket.CloseMessageTooBig, "Message too large")
			return
		}
		if !c.allowMessage() {
			h.closeClient(c, websocket.ClosePolicyViolation, "Rate limit exceeded")
			return
		}

		var req clientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if c.invalidCount.Add(1) > InvalidMsgLimit {
				h.closeClient(c, websocket.CloseUnsupportedData, "Too many invalid messages")
				return
			}
			h.log.Warnf("client %s sent invalid message: %v", c.id, err)
			continue
		}

		h.dispatch(c, req)
	}
}

func (c *Client) allowMessage() bool {
	c.winMu.Lock()
	defer c.winMu.Unlock()
	now := time.Now()
	if now.Sub(c.winStart) >= ClientMsgWindow {
		c.winStart = now
		c.winCount = 0
	}
	c.winCount++
	return c.winCount <= ClientMsgMax
}

func (h *Hub) dispatch(c *Client, req clientRequest) {
	switch req.Type {
	case "plan_request":
		if h.planDispatcher != nil {
			h.planDispatcher(req.Path, func(event interface{}) { h.sendToClient(c, event) })
		}
	default:
		h.log.Warnf("unrecognized client request type %q from %s", req.Type, c.id)
	}
}

func (h *Hub) closeClient(c *Client, code int, reason string) {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	h.removeClient(c)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.closeOnce.Do(func() { close(c.send) })
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type envelope struct {
	Event interface{} `json:"event"`
	Seq   uint64      `json:"seq"`
}

// Broadcast sends event to every connected client. Per-client send failures
// (a full buffer) drop that client without affecting the others.
func (h *Hub) Broadcast(event interface{}) {
	data, err := json.Marshal(envelope{Event: event, Seq: h.seq.Add(1)})
	if err != nil {
		h.log.Errorf("broadcast marshal failure: %v", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			h.log.Warnf("client %s too slow, disconnecting", c.id)
			h.removeClient(c)
		}
	}
}

// sendToClient targets a single client with its own sequence number, used
// for the connect-time snapshot and client-request responses.
func (h *Hub) sendToClient(c *Client, event interface{}) {
	data, err := json.Marshal(envelope{Event: event, Seq: h.seq.Add(1)})
	if err != nil {
		h.log.Errorf("send marshal failure: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Warnf("client %s too slow for snapshot send", c.id)
	}
}

func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.heartbeatStop:
			return
		case <-ticker.C:
			h.heartbeatTick()
		}
	}
}

func (h *Hub) heartbeatTick() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.isAlive.Load() {
			h.removeClient(c)
			continue
		}
		c.isAlive.Store(false)
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			h.removeClient(c)
		}
	}
}

// Shutdown cancels the heartbeat, closes every client with 1000, and stops
// accepting new connections.
func (h *Hub) Shutdown() {
	h.heartbeatOnce.Do(func() { close(h.heartbeatStop) })

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Server shutting down"),
			time.Now().Add(writeWait))
		c.closeOnce.Do(func() { close(c.send) })
	}
}

type connectionStatusPayload struct {
	Type          string `json:"type"`
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
	ServerVersion string `json:"serverVersion"`
	ClientCount   int    `json:"clientCount"`
}

// Version is the hub's reported server version, overridable by main for
// build-time stamping.
var Version = "dev"

func connectionStatusEvent(status string, clientCount int) connectionStatusPayload {
	return connectionStatusPayload{
		Type:          "connection_status",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Status:        status,
		ServerVersion: Version,
		ClientCount:   clientCount,
	}
}

// parseOrigin is used by tests to sanity-check an Origin header shape; kept
// small and unexported since admission only needs exact-match comparison.
func parseOrigin(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + u.Host, true
}
