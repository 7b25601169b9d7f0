package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// connDeadline bounds one request/response exchange on the socket.
const connDeadline = 30 * time.Second

// handler dispatches one decoded control request. The unix socket server
// and the websocket server both route through the same handler, so every
// method behaves identically on either transport.
type handler interface {
	Handle(ctx context.Context, req Request) Response
}

// Server answers JSON-RPC over a unix socket, one request per connection.
// Clients are short-lived CLI invocations and MCP subprocesses; a
// persistent connection buys nothing here and connection-per-request
// keeps the protocol stateless.
type Server struct {
	socketPath string
	handler    handler
	log        *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer returns a server for the given socket path.
func NewServer(socketPath string, h handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handler:    h,
		log:        log,
	}
}

// ListenAndServe accepts connections until ctx is cancelled or Close is
// called, then drains in-flight requests before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A stale socket from a crashed daemon blocks the bind.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.log.Info("control socket listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			s.log.Error("accept failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

// Close stops accepting. In-flight requests finish via ListenAndServe's
// drain.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// handleConnection reads one request, dispatches it, writes the response.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(connDeadline)); err != nil {
		s.log.Warn("cannot set connection deadline", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "request is not valid JSON"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeInvalidRequest, "not a JSON-RPC 2.0 request"))
		return
	}

	_ = encoder.Encode(s.handler.Handle(ctx, req))
}

// decodeParams re-encodes the loosely typed params and decodes them into
// the method's typed parameter struct.
func decodeParams(params any, dst interface{ Validate() error }) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return dst.Validate()
}
