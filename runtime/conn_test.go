package runtime

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeConn records what the relay sends through it.
type fakeConn struct {
	id      string
	mu      sync.Mutex
	sent    [][]byte
	pings   int
	closed  bool
	sendErr error
	onPing  func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.NewString()}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.ErrConnectionClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	c.pings++
	onPing := c.onPing
	c.mu.Unlock()
	if onPing != nil {
		onPing()
	}
	return nil
}

func (c *fakeConn) setOnPing(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPing = fn
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) frames(t *testing.T) []domain.Frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := make([]domain.Frame, 0, len(c.sent))
	for _, data := range c.sent {
		frame, err := domain.DecodeFrame(data)
		require.NoError(t, err)
		frames = append(frames, frame)
	}
	return frames
}

func (c *fakeConn) deliveries(t *testing.T) []domain.DeliveryFrame {
	t.Helper()
	var out []domain.DeliveryFrame
	for _, frame := range c.frames(t) {
		if d, ok := frame.(domain.DeliveryFrame); ok {
			out = append(out, d)
		}
	}
	return out
}

func (c *fakeConn) lastPresence(t *testing.T) (domain.PresenceFrame, bool) {
	t.Helper()
	frames := c.frames(t)
	for i := len(frames) - 1; i >= 0; i-- {
		if p, ok := frames[i].(domain.PresenceFrame); ok {
			return p, true
		}
	}
	return domain.PresenceFrame{}, false
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}
