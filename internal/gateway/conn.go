package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/protocol"
)

const (
	// outboundSize bounds frames waiting for the writer. A client that
	// falls this far behind is disconnected.
	outboundSize = 64

	writeTimeout = 10 * time.Second
)

// frame is one item of the ordered outbound queue: a message, or the close
// frame that ends the connection.
type frame struct {
	msg    protocol.Message
	close  bool
	code   websocket.StatusCode
	reason string
}

// conn is the outbound half of one websocket. All writes go through a
// single writer goroutine so frames leave in the order they were queued.
type conn struct {
	ws  *websocket.Conn
	log *slog.Logger

	out     chan frame
	closing chan struct{}
	once    sync.Once
}

func newConn(ws *websocket.Conn, log *slog.Logger) *conn {
	return &conn{
		ws:      ws,
		log:     log,
		out:     make(chan frame, outboundSize),
		closing: make(chan struct{}),
	}
}

// send queues msgs. It reports false once the connection is closing.
func (c *conn) send(msgs ...protocol.Message) bool {
	for _, m := range msgs {
		select {
		case <-c.closing:
			return false
		default:
		}
		select {
		case c.out <- frame{msg: m}:
		case <-c.closing:
			return false
		default:
			c.log.Warn("client too slow, dropping connection")
			c.abort()
			return false
		}
	}
	return true
}

// finish queues a close frame behind everything already queued. Later
// sends are dropped.
func (c *conn) finish(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.closing)
		select {
		case c.out <- frame{close: true, code: code, reason: reason}:
		default:
			// Queue full: drop it without flushing.
			_ = c.ws.CloseNow()
		}
	})
}

// abort drops the connection without a close handshake.
func (c *conn) abort() {
	c.once.Do(func() {
		close(c.closing)
		_ = c.ws.CloseNow()
	})
}

// closed is closed once the connection stops accepting messages.
func (c *conn) closed() <-chan struct{} { return c.closing }

// writeLoop drains the queue until the close frame or ctx ends. A failed
// write drops the connection and is reported as [assessment.ErrTransport].
func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-c.out:
			if f.close {
				if err := c.ws.Close(f.code, f.reason); err != nil {
					c.log.Debug("close handshake failed", "err", err)
				}
				return nil
			}
			data, err := protocol.Encode(f.msg)
			if err != nil {
				c.log.Error("outbound message dropped", "type", f.msg.MessageType(), "err", err)
				continue
			}
			if err := c.write(ctx, data); err != nil {
				c.abort()
				return assessment.Wrap(assessment.ErrTransport, "write "+string(f.msg.MessageType()), err)
			}
		}
	}
}

func (c *conn) write(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}
