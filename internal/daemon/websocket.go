package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// wsWriteTimeout bounds one frame write; a client that cannot drain
	// within it is dead or hopeless.
	wsWriteTimeout = 5 * time.Second

	// wsPingInterval keeps intermediary-friendly traffic flowing on
	// otherwise quiet subscriptions.
	wsPingInterval = 30 * time.Second

	// wsPongWait is how long past a ping a silent client survives.
	wsPongWait = wsPingInterval + 15*time.Second
)

// WebsocketServer serves the control protocol over persistent loopback
// websocket connections. Unlike the socket server, a connection carries
// any number of requests, plus FMDM snapshot notifications after an
// fmdm.subscribe. The TUI is the primary client.
type WebsocketServer struct {
	port    int
	handler handler
	hub     *hub
	log     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*wsConn]struct{}
	shutdown bool
}

// NewWebsocketServer returns a server for the given loopback port.
func NewWebsocketServer(port int, h handler, hub *hub, log *slog.Logger) *WebsocketServer {
	if log == nil {
		log = slog.Default()
	}
	return &WebsocketServer{
		port:    port,
		handler: h,
		hub:     hub,
		log:     log,
		conns:   make(map[*wsConn]struct{}),
	}
}

// ListenAndServe accepts websocket connections on 127.0.0.1:port until ctx
// ends, then closes every live connection before returning.
func (s *WebsocketServer) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	upgrader := websocket.Upgrader{
		// Loopback only; the bind address is the access control.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		s.serveConn(ctx, conn)
	})

	srv := &http.Server{Handler: mux}
	s.log.Info("websocket listening", slog.String("addr", addr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		conns := make([]*wsConn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		for _, c := range conns {
			c.close()
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	err = srv.Serve(listener)
	<-done
	if err == http.ErrServerClosed {
		return ctx.Err()
	}
	return err
}

// wsConn is one live websocket client. Writes from the request loop and
// the snapshot forwarder are serialized by writeMu; gorilla allows one
// concurrent writer only.
type wsConn struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	unsubscribe func()
	closed      bool
}

// serveConn runs one connection to completion.
func (s *WebsocketServer) serveConn(ctx context.Context, conn *websocket.Conn) {
	c := &wsConn{
		id:   uuid.NewString(),
		conn: conn,
	}
	c.log = s.log.With(slog.String("conn", c.id))

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.close()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

	pingStop := make(chan struct{})
	defer close(pingStop)
	go c.pingLoop(pingStop)

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		if req.JSONRPC != "2.0" || req.Method == "" {
			c.write(NewErrorResponse(req.ID, ErrCodeInvalidRequest, "not a JSON-RPC 2.0 request"))
			continue
		}

		if req.Method == MethodFMDMSubscribe {
			c.write(s.subscribe(ctx, c, req))
			continue
		}
		c.write(s.handler.Handle(ctx, req))
	}
}

// subscribe attaches the connection to the hub and starts the forwarder.
// A second subscribe on the same connection replaces the first.
func (s *WebsocketServer) subscribe(ctx context.Context, c *wsConn, req Request) Response {
	snapshots, cancel := s.hub.Subscribe()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return NewErrorResponse(req.ID, ErrCodeInternalError, "connection is closing")
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.unsubscribe = cancel
	c.mu.Unlock()

	go func() {
		for {
			select {
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				if !c.writeJSON(NewSnapshotNotification(snap)) {
					cancel()
					return
				}
			case <-ctx.Done():
				cancel()
				return
			}
		}
	}()

	return NewSuccessResponse(req.ID, SubscribeResult{
		Subscribed: true,
		Seq:        s.hub.Snapshot().Seq,
	})
}

// write sends one response frame. Errors close the connection via the read
// loop noticing the broken pipe.
func (c *wsConn) write(resp Response) {
	c.writeJSON(resp)
}

// writeJSON marshals and sends any frame under the write lock, reporting
// whether the connection is still usable.
func (c *wsConn) writeJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("cannot encode websocket frame", slog.String("error", err.Error()))
		return true
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false
	}
	return true
}

// pingLoop keeps the connection alive until stop closes.
func (c *wsConn) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// close tears the connection down and cancels any subscription. Idempotent.
func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	_ = c.conn.Close()
}
