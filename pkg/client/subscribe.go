package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/foldermcp/foldermcp/internal/daemon"
	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

// subscriptionBuffer absorbs bursts while the consumer renders. The daemon
// drops slow subscribers server-side, and snapshots are self-contained, so
// a small buffer is enough: a dropped frame is replaced by the next one.
const subscriptionBuffer = 8

// Subscription is a live FMDM feed. Snapshots arrive in sequence order;
// the channel closes when the connection ends, after which Err reports why.
type Subscription struct {
	snapshots chan fmdm.Snapshot

	mu     sync.Mutex
	err    error
	closed bool

	conn *websocket.Conn
	done chan struct{}
}

// Snapshots returns the snapshot feed. The first delivery is the current
// state, so consumers can render immediately.
func (s *Subscription) Snapshots() <-chan fmdm.Snapshot {
	return s.snapshots
}

// Err returns why the feed ended, nil after a clean Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears down the subscription and its websocket connection.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.conn.Close()
	<-s.done
	return err
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if !s.closed && s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Subscribe opens a websocket to the daemon and subscribes to FMDM pushes.
// The returned subscription stays live until Close or a connection error.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   fmt.Sprintf("127.0.0.1:%d", c.wsPort),
		Path:   "/ws",
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrDaemonNotRunning, u.String(), err)
	}

	req := daemon.Request{
		JSONRPC: "2.0",
		Method:  daemon.MethodFMDMSubscribe,
		ID:      "subscribe",
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &Subscription{
		snapshots: make(chan fmdm.Snapshot, subscriptionBuffer),
		conn:      conn,
		done:      make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

// wsFrame distinguishes subscribe acks from snapshot notifications by the
// method field; acks carry an ID instead.
type wsFrame struct {
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *daemon.Error   `json:"error,omitempty"`
	ID     string          `json:"id,omitempty"`
}

func (s *Subscription) readLoop() {
	defer close(s.done)
	defer close(s.snapshots)

	// Pings from the server keep the read alive; refresh the deadline on
	// every frame too so a busy feed never needs the pong path.
	const readWait = 90 * time.Second
	s.conn.SetPingHandler(func(appData string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData),
			time.Now().Add(5*time.Second))
	})

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
		var frame wsFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			s.fail(err)
			return
		}
		if frame.Error != nil {
			s.fail(&RPCError{Code: frame.Error.Code, Message: frame.Error.Message})
			return
		}
		if frame.Method != daemon.MethodFMDMSnapshot {
			continue
		}

		var snap fmdm.Snapshot
		if err := json.Unmarshal(frame.Params, &snap); err != nil {
			s.fail(fmt.Errorf("decode snapshot: %w", err))
			return
		}
		select {
		case s.snapshots <- snap:
		default:
			// Consumer is behind; drop this frame, the next snapshot
			// carries the whole state anyway.
		}
	}
}
