// File: transport/wsock/hub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wsock

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/momentics/hioload-state/api"
)

// WriteTimeout bounds a single frame write.
const WriteTimeout = 10 * time.Second

// Registrar is the part of a connection registry the hub calls after an
// upgrade.
type Registrar interface {
	Register(req api.Request, params ...any) (string, bool)
}

// Config tunes a Hub.
type Config struct {
	// Upgrader is used as given. The zero value accepts same-origin requests.
	Upgrader websocket.Upgrader
	// OnMessage receives inbound data frames. Nil discards them.
	OnMessage func(fd int, data []byte)
	Logger    zerolog.Logger
}

// Hub owns upgraded connections and implements api.Transport.
// Descriptors are local to the hub.
type Hub struct {
	cfg     Config
	mu      sync.RWMutex
	conns   map[int]*conn
	closed  bool
	lastFD  atomic.Int64
	writers conc.WaitGroup
	log     zerolog.Logger
}

var _ api.Transport = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(cfg Config) *Hub {
	return &Hub{cfg: cfg, conns: make(map[int]*conn), log: cfg.Logger}
}

// conn is one upgraded socket with its outbound FIFO.
type conn struct {
	fd     int
	ws     *websocket.Conn
	mu     sync.Mutex
	out    *queue.Queue
	wake   chan struct{}
	done   chan struct{}
	closed bool
	once   sync.Once
}

// Attach adopts an upgraded connection and returns its descriptor.
// Descriptors increase monotonically and are never reused. Once the hub is
// closed, ws is closed with 1001 and Attach returns ErrClosed.
func (h *Hub) Attach(ws *websocket.Conn) (int, error) {
	c, ok := h.attach(ws)
	if !ok {
		return 0, fmt.Errorf("wsock: attach: %w", api.ErrClosed)
	}
	return c.fd, nil
}

func (h *Hub) attach(ws *websocket.Conn) (*conn, bool) {
	c := &conn{
		fd:   int(h.lastFD.Add(1)),
		ws:   ws,
		out:  queue.New(),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(WriteTimeout))
		_ = ws.Close()
		return nil, false
	}
	h.conns[c.fd] = c
	h.writers.Go(func() { h.writeLoop(c) })
	h.mu.Unlock()
	return c, true
}

func (h *Hub) get(fd int) (*conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[fd]
	return c, ok
}

// detach closes the socket and forgets the descriptor.
func (h *Hub) detach(c *conn) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
		h.mu.Lock()
		delete(h.conns, c.fd)
		h.mu.Unlock()
	})
}

// Push queues payload as a text frame for fd.
func (h *Hub) Push(fd int, payload []byte) error {
	c, ok := h.get(fd)
	if !ok {
		return fmt.Errorf("wsock: push to %d: %w", fd, api.ErrNotFound)
	}
	frame := append([]byte(nil), payload...)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("wsock: push to %d: %w", fd, api.ErrClosed)
	}
	c.out.Add(frame)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// IsEstablished reports whether fd is an open connection of this hub.
func (h *Hub) IsEstablished(fd int) bool {
	c, ok := h.get(fd)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Disconnect sends a close frame with code and message, then closes fd.
func (h *Hub) Disconnect(fd int, code int, message string) error {
	c, ok := h.get(fd)
	if !ok {
		return fmt.Errorf("wsock: disconnect %d: %w", fd, api.ErrNotFound)
	}
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, message), time.Now().Add(WriteTimeout))
	h.detach(c)
	return err
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every connection with 1001 and waits for the writers.
// Connections attached afterwards are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	fds := make([]int, 0, len(h.conns))
	for fd := range h.conns {
		fds = append(fds, fd)
	}
	h.mu.Unlock()
	for _, fd := range fds {
		_ = h.Disconnect(fd, websocket.CloseGoingAway, "server shutdown")
	}
	h.writers.Wait()
	return nil
}

// writeLoop drains c's queue until the connection closes.
func (h *Hub) writeLoop(c *conn) {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if c.closed || c.out.Length() == 0 {
				c.mu.Unlock()
				break
			}
			frame := c.out.Remove().([]byte)
			c.mu.Unlock()

			_ = c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Debug().Err(err).Int("fd", c.fd).Msg("write failed")
				h.detach(c)
				return
			}
		}
	}
}

// readLoop blocks until fd's peer goes away, then detaches it.
func (h *Hub) readLoop(c *conn) {
	defer h.detach(c)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Int("fd", c.fd).Msg("connection lost")
			}
			return
		}
		if h.cfg.OnMessage != nil {
			h.cfg.OnMessage(c.fd, data)
		}
	}
}

// Handler upgrades requests, registers each connection with reg using
// params, and serves it until it closes. A connection the registrar rejects
// is expected to have been disconnected by it.
func (h *Hub) Handler(reg Registrar, params ...any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := h.cfg.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
			return
		}
		c, ok := h.attach(ws)
		if !ok {
			h.log.Debug().Str("remote", r.RemoteAddr).Msg("connection refused after shutdown")
			return
		}
		identity, ok := reg.Register(api.Request{FD: c.fd, HTTP: r}, params...)
		if !ok {
			h.detach(c)
			return
		}
		h.log.Debug().Int("fd", c.fd).Str("identity", identity).Msg("connection open")
		h.readLoop(c)
	})
}
