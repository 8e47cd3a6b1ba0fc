package websocket

import (
	"chat-relay/errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn adapts a gorilla websocket to contract.Connection.
// Outbound frames go through an unbounded outbox drained by a single writer
// goroutine, so Send never blocks the relay. A peer that stops reading makes
// the outbox grow without limit.
type Conn struct {
	id           string
	ws           *websocket.Conn
	log          *slog.Logger
	writeTimeout time.Duration

	mu     sync.Mutex
	outbox [][]byte
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewConn(log *slog.Logger, ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	c := &Conn{
		id:           uuid.NewString(),
		ws:           ws,
		log:          log,
		writeTimeout: writeTimeout,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
	}
	c.mu.Lock()
	c.outbox = append(c.outbox, data)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Ping writes a ping control frame. WriteControl is safe to call
// concurrently with the writer goroutine.
func (c *Conn) Ping() error {
	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close terminates the socket without a close handshake.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// ReadLoop reads until the socket fails or is closed. Pong control frames
// are reported through onPong, data frames through onMessage.
// A normal closure returns nil.
func (c *Conn) ReadLoop(maxMessageSize int64, onPong func(), onMessage func([]byte)) error {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		onPong()
		return nil
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return nil
		}
		if len(data) > 0 {
			onMessage(data)
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for _, data := range c.drain() {
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Conn) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.outbox
	c.outbox = nil
	return batch
}

func (c *Conn) fail(err error) {
	select {
	case <-c.done:
	default:
		c.log.Debug("Websocket write failed", "connection_id", c.id, "err", err)
	}
	c.Close()
}
