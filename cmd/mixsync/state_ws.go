package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ============================================================================
// State WebSocket feed
// ============================================================================
//
// Read-only view of the synchronizer for dashboards and debugging:
//   - state_init: full StateSnapshot, sent once on connect
//   - volume_synced: latest applied value, coalesced to one frame per window
//   - write_failed: a target write failed (sent immediately)
//
// Frames are JSON text messages {type, ts, data}. A client whose queue fills up
// is disconnected; the watch loop is never slowed down by subscribers.
//
// ============================================================================

const (
	wsTypeStateInit    = "state_init"
	wsTypeVolumeSynced = "volume_synced"
	wsTypeWriteFailed  = "write_failed"

	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

type wsVolumeSyncedData struct {
	SourceRaw   int64   `json:"source_raw"`
	TargetValue float64 `json:"target_value"`
}

type wsWriteFailedData struct {
	SourceRaw int64  `json:"source_raw"`
	Error     string `json:"error"`
}

// envelope is the wire format of every frame.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalFrame(typ string, at time.Time, data any) ([]byte, error) {
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	return json.Marshal(envelope{Type: typ, Ts: &at, Data: data})
}

// ============================================================================
// Hub
// ============================================================================

// Hub fans serialized frames out to the connected clients.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	// closed when Run returns
	done chan struct{}

	sendBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, sendBuf, broadcastBuf int) *Hub {
	if sendBuf <= 0 {
		sendBuf = wsClientSendBuffer
	}
	if broadcastBuf <= 0 {
		broadcastBuf = stateBroadcastBuffer
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, broadcastBuf),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		clients:    make(map[*Client]struct{}),
		done:       make(chan struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes registrations and broadcasts until ctx is canceled, then
// disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("ws hub starting")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping")
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			for c := range clients {
				c.disconnect()
			}
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.drop(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()
			for _, c := range slow {
				h.drop(c, "slow_client")
			}
		}
	}
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.disconnect()
		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// addClient hands c to the hub loop. It reports false once the hub has stopped.
func (h *Hub) addClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// removeClient asks the hub loop to drop c. After the hub has stopped it only
// disconnects c.
func (h *Hub) removeClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.disconnect()
	}
}

// BroadcastBytes enqueues a frame without blocking; a full queue drops it.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// disconnect closes the connection and the send queue. Safe to call more than once.
func (c *Client) disconnect() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Debug("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains the send queue onto the connection and keeps it alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to process control frames and notice
// disconnects.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			c.hub.removeClient(c)
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

// StateServer serves the websocket feed for one StateStore.
type StateServer struct {
	logger *slog.Logger
	hub    *Hub
	store  *StateStore

	upgrader websocket.Upgrader
}

func NewStateServer(logger *slog.Logger, store *StateStore, hub *Hub) *StateServer {
	return &StateServer{
		logger: logger,
		hub:    hub,
		store:  store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns a mux serving the feed on /state.
func (s *StateServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/state", s.handleStateWS)
	return mux
}

func (s *StateServer) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, r.RemoteAddr, s.logger)

	// state_init goes in first so it precedes any broadcast frame.
	initMsg, err := marshalFrame(wsTypeStateInit, time.Now(), s.store.Snapshot())
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		_ = conn.Close()
		return
	}
	client.send <- initMsg

	if !s.hub.addClient(client) {
		s.logger.Debug("ws hub stopped, rejecting client", "remote_addr", r.RemoteAddr)
		client.disconnect()
		return
	}

	// The pumps outlive the request; the hub and connection errors end them.
	go client.writePump()
	go client.readPump()
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster turns StateStore broadcasts into frames. volume_synced frames are
// rate limited: the latest value is flushed at most once per coalesce window.
// Any other event flushes the pending volume first so ordering is preserved.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	window := time.Duration(wsCoalesceWindowMS) * time.Millisecond
	timer := time.NewTimer(window)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	var pending *BroadcastVolumeSynced

	emit := func(typ string, at time.Time, data any) {
		msg, err := marshalFrame(typ, at, data)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", typ)
			return
		}
		hub.BroadcastBytes(msg)
	}
	flush := func() {
		if pending == nil {
			return
		}
		emit(wsTypeVolumeSynced, pending.At, wsVolumeSyncedData{
			SourceRaw:   pending.SourceRaw,
			TargetValue: pending.TargetValue,
		})
		pending = nil
	}
	disarm := func() {
		if armed && !timer.Stop() {
			<-timer.C
		}
		armed = false
	}

	for {
		select {
		case <-ctx.Done():
			disarm()
			flush()
			return

		case <-timer.C:
			armed = false
			flush()

		case b, ok := <-src:
			if !ok {
				disarm()
				flush()
				logger.Debug("ws broadcaster stopping (source closed)")
				return
			}

			switch ev := b.(type) {
			case BroadcastVolumeSynced:
				pending = &ev
				if !armed {
					timer.Reset(window)
					armed = true
				}
			case BroadcastWriteFailed:
				disarm()
				flush()
				emit(wsTypeWriteFailed, ev.At, wsWriteFailedData{SourceRaw: ev.SourceRaw, Error: ev.Error})
			}
		}
	}
}

// ============================================================================
// HTTP server lifecycle
// ============================================================================

// runStateServer serves handler on addr until ctx is canceled, then shuts down
// gracefully.
func runStateServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	logger.Info("state websocket listening", "addr", ln.Addr().String(), "path", "/state")

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "state HTTP server")
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeoutMS)*time.Millisecond)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "state HTTP server shutdown")
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
