// Package transport adapts gorilla/websocket connections to the relay's
// Transport contract.
package transport

import (
	"context"
	goerrors "errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/protocol"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

type Options struct {
	// BufferSize is how many outbound frames may wait for the writer.
	BufferSize   int
	WriteTimeout time.Duration
	// PongTimeout is how long a peer may stay silent before it is dropped.
	// Pings go out at 9/10 of it.
	PongTimeout time.Duration
	// MaxFrameSize is the largest frame Receive hands over. A bigger one is
	// read to its end, dropped and reported as errors.ErrFrameTooLarge, and
	// the connection stays usable. Only frames past hardLimitFactor times the
	// size end the connection.
	MaxFrameSize int64
}

const hardLimitFactor = 16

// NewUpgrader returns an upgrader accepting the given origins. "*" accepts
// any origin; an empty list keeps gorilla's same-host check.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	upgrader := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	switch {
	case len(allowedOrigins) == 0:
	case lo.Contains(allowedOrigins, "*"):
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	default:
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return lo.Contains(allowedOrigins, r.Header.Get("Origin"))
		}
	}
	return upgrader
}

// Conn is one WebSocket client. It starts as a pending HTTP request: Accept
// performs the upgrade, Close before Accept answers 403 with an empty body.
//
// Outbound frames go through a bounded queue drained by a single writer
// goroutine, which also owns pings and the close frame. Send only enqueues,
// so a broadcast never waits on a slow network peer; when the queue is full
// Send fails with errors.ErrSlowConsumer and the registry drops the client.
//
// Reads are not concurrent: one goroutine calls Receive in a loop. The pong
// handler pushes the read deadline forward, so a peer that stops answering
// pings surfaces as a Receive error.
type Conn struct {
	id       domain.ConnectionID
	log      *slog.Logger
	upgrader *websocket.Upgrader
	opts     Options

	mu       sync.Mutex
	w        http.ResponseWriter
	r        *http.Request
	ws       *websocket.Conn
	accepted bool
	refused  bool

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader,
	opts Options, log *slog.Logger) *Conn {
	id := domain.NewConnectionID()
	return &Conn{
		id:       id,
		log:      log.With("connection_id", id),
		upgrader: upgrader,
		opts:     opts,
		w:        w,
		r:        r,
		send:     make(chan []byte, opts.BufferSize),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() domain.ConnectionID { return c.id }

func (c *Conn) Done() <-chan struct{} { return c.done }

// Accept upgrades the pending request and starts the writer.
func (c *Conn) Accept() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refused || c.isDone() {
		return errors.ErrConnectionClosed
	}
	if c.accepted {
		return nil
	}

	ws, err := c.upgrader.Upgrade(c.w, c.r, nil)
	if err != nil {
		// gorilla already answered the request
		c.refused = true
		c.shutdown()
		return err
	}
	c.ws = ws
	c.accepted = true
	c.w, c.r = nil, nil

	if c.opts.MaxFrameSize > 0 {
		ws.SetReadLimit(c.opts.MaxFrameSize * hardLimitFactor)
	}
	if c.opts.PongTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		})
	}
	go c.writePump(ws)
	return nil
}

// Send queues evt without waiting on the network.
// A full queue is a slow consumer and the caller is expected to drop it.
func (c *Conn) Send(_ context.Context, evt event.Event) error {
	if c.isDone() {
		return errors.ErrConnectionClosed
	}
	frame, err := protocol.Encode(evt)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	case c.send <- frame:
		return nil
	default:
		return errors.ErrSlowConsumer
	}
}

// Receive blocks for the next client frame. It must be called from a single
// goroutine, after Accept.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil, errors.ErrConnectionClosed
	}

	data, err := c.read(ws)
	if err != nil && !goerrors.Is(err, errors.ErrFrameTooLarge) &&
		websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		c.log.Debug("websocket read failed", "error", err)
	}
	return data, err
}

func (c *Conn) read(ws *websocket.Conn) ([]byte, error) {
	_, reader, err := ws.NextReader()
	if err != nil {
		return nil, err
	}
	limit := c.opts.MaxFrameSize
	if limit <= 0 {
		return io.ReadAll(reader)
	}

	data, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) <= limit {
		return data, nil
	}
	// the next frame starts after this one
	discarded, err := io.Copy(io.Discard, reader)
	if err != nil {
		return nil, err
	}
	c.log.Debug("inbound frame dropped", "bytes", int64(len(data))+discarded, "limit", limit)
	return nil, errors.ErrFrameTooLarge
}

// Close is idempotent. A pending connection is refused with 403, an accepted
// one gets a normal close frame from the writer.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.accepted && !c.refused {
		c.refused = true
		c.w.WriteHeader(http.StatusForbidden)
		c.w, c.r = nil, nil
	}
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) writePump(ws *websocket.Conn) {
	var ping <-chan time.Time
	if c.opts.PongTimeout > 0 {
		ticker := time.NewTicker(c.opts.PongTimeout * 9 / 10)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer func() {
		c.shutdown()
		_ = ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), c.deadline())
			return
		case frame := <-c.send:
			_ = ws.SetWriteDeadline(c.deadline())
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping:
			if err := ws.WriteControl(websocket.PingMessage, nil, c.deadline()); err != nil {
				c.log.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Conn) deadline() time.Time {
	if c.opts.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.opts.WriteTimeout)
}
