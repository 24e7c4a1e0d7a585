package presence

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"teamwire/pkg/logger"
)

// Sink is the write half of one device connection. The websocket layer
// adapts its socket to this; tests substitute an in-memory sink.
type Sink interface {
	WriteText(ctx context.Context, p []byte) error
}

// wire is the outbound event envelope.
type wire struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// frame is one marshaled event shared by every target connection of a
// fan-out. The pooled buffer is released when the last target is done
// with it.
type frame struct {
	buf       *bytebufferpool.ByteBuffer
	refs      int32
	maxPooled int64
}

func newFrame(eventType string, payload any, refs int, maxPooled int64) (*frame, error) {
	bb := bytebufferpool.Get()
	if err := json.NewEncoder(bb).Encode(wire{Type: eventType, Data: payload}); err != nil {
		bytebufferpool.Put(bb)
		return nil, err
	}
	return &frame{buf: bb, refs: int32(refs), maxPooled: maxPooled}, nil
}

func (f *frame) bytes() []byte { return f.buf.B }

// done releases one reference; the last release returns the buffer to
// the pool unless it grew past the pooling cap.
func (f *frame) done() {
	if atomic.AddInt32(&f.refs, -1) != 0 {
		return
	}
	if int64(cap(f.buf.B)) <= f.maxPooled {
		bytebufferpool.Put(f.buf)
	}
	f.buf = nil
}

// Conn is one registered device connection. The registry owns the
// lifecycle; the write pump is the only goroutine touching the sink.
type Conn struct {
	ID   string
	User string
	Org  string
	Role string

	sink Sink
	out  chan *frame
	done chan struct{}

	// rooms is guarded by the registry lock.
	rooms map[string]struct{}

	writeTimeout time.Duration
}

// NewConn builds a connection for the registry. sendBuffer bounds the
// outbound queue; a full queue drops events for this connection only.
func NewConn(id, user, org, role string, sink Sink, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Conn{
		ID:           id,
		User:         user,
		Org:          org,
		Role:         role,
		sink:         sink,
		out:          make(chan *frame, sendBuffer),
		done:         make(chan struct{}),
		rooms:        make(map[string]struct{}),
		writeTimeout: 10 * time.Second,
	}
}

// enqueue offers a frame to the connection without blocking.
func (c *Conn) enqueue(f *frame) bool {
	select {
	case c.out <- f:
		return true
	default:
		f.done()
		return false
	}
}

// run is the write pump. It exits when the registry stops the
// connection, draining queued frames so pooled buffers are returned.
func (c *Conn) run() {
	for {
		select {
		case f := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			err := c.sink.WriteText(ctx, f.bytes())
			cancel()
			f.done()
			if err != nil {
				logger.Debug("connection_write_failed", "conn", c.ID, "error", err)
			}
		case <-c.done:
			c.drain()
			return
		}
	}
}

func (c *Conn) stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Conn) drain() {
	for {
		select {
		case f := <-c.out:
			f.done()
		default:
			return
		}
	}
}
