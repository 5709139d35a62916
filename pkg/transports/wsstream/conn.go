package wsstream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type message struct {
	kind int
	data []byte
	// stale reports, at write time, that the audio belongs to a turn the
	// caller already interrupted.
	stale func() bool
}

// conn serializes writes to one websocket; gorilla allows a single writer.
type conn struct {
	ws  *websocket.Conn
	out chan message

	stop    chan struct{}
	closing chan struct{}
	written chan struct{}

	stopOnce   sync.Once
	finishOnce sync.Once
}

func newConn(ws *websocket.Conn, buffer int) *conn {
	return &conn{
		ws:      ws,
		out:     make(chan message, buffer),
		stop:    make(chan struct{}),
		closing: make(chan struct{}),
		written: make(chan struct{}),
	}
}

// send blocks while the buffer is full; the egress queue upstream bounds
// how far audio can fall behind.
func (c *conn) send(kind int, data []byte) {
	c.enqueue(message{kind: kind, data: data})
}

func (c *conn) enqueue(m message) {
	select {
	case <-c.closing:
		return
	case <-c.stop:
		return
	default:
	}
	select {
	case c.out <- m:
	case <-c.closing:
	case <-c.stop:
	}
}

// sendAudio queues agent audio for turnID. The frame is dropped if the
// turn is cancelled before it reaches the socket; the clear event for that
// turn is queued only after the cancellation is visible.
func (c *conn) sendAudio(data []byte, turnID string, cancelled func(string) bool) {
	if turnID == "" || cancelled == nil {
		c.send(websocket.BinaryMessage, data)
		return
	}
	if cancelled(turnID) {
		return
	}
	c.enqueue(message{kind: websocket.BinaryMessage, data: data, stale: func() bool { return cancelled(turnID) }})
}

func (c *conn) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.send(websocket.TextMessage, b)
}

func (c *conn) writeLoop() {
	defer close(c.written)
	for {
		select {
		case <-c.stop:
			return
		case m := <-c.out:
			if !c.write(m) {
				c.hangup()
				return
			}
		case <-c.closing:
			for {
				select {
				case m := <-c.out:
					if !c.write(m) {
						c.hangup()
						return
					}
				default:
					c.write(message{kind: websocket.CloseMessage, data: websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")})
					c.hangup()
					return
				}
			}
		}
	}
}

func (c *conn) write(m message) bool {
	if m.stale != nil && m.stale() {
		return true
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(m.kind, m.data) == nil
}

// finish flushes what is queued, sends a close frame and hangs up.
func (c *conn) finish() {
	c.finishOnce.Do(func() { close(c.closing) })
}

func (c *conn) hangup() {
	c.stopOnce.Do(func() {
		close(c.stop)
		_ = c.ws.Close()
	})
}

func (c *conn) wait(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.written:
	case <-timer.C:
	}
}

// context ends when the connection is gone.
func (c *conn) context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-c.stop:
		case <-c.written:
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}
