package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	DefaultPingInterval = 5 * time.Second
	DefaultPongGrace    = 1 * time.Second
)

// ValidateHeartbeat checks that a missed pong is detected within one cycle.
func ValidateHeartbeat(interval, grace time.Duration) error {
	if interval <= 0 || grace <= 0 || grace >= interval {
		return errors.ErrInvalidHeartbeat
	}
	return nil
}

// HeartbeatMonitor is the liveness state machine of one connection:
//
//	Alive --tick/ping--> AwaitingPong --pong--> Alive
//	AwaitingPong --grace expired--> Dead (terminal)
//
// The first missed pong is fatal. Each tick arms a fresh grace timer and
// every timer is stopped on state exit and on teardown.
type HeartbeatMonitor struct {
	log      *slog.Logger
	conn     contract.Connection
	interval time.Duration
	grace    time.Duration
	pongs    chan struct{}
	state    atomic.Int32
	onDead   func()
}

// NewHeartbeatMonitor builds a monitor; onDead runs once, from Run's goroutine,
// when the connection is declared dead.
func NewHeartbeatMonitor(log *slog.Logger, conn contract.Connection,
	interval, grace time.Duration, onDead func()) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		log:      log,
		conn:     conn,
		interval: interval,
		grace:    grace,
		pongs:    make(chan struct{}, 1),
		onDead:   onDead,
	}
}

func (h *HeartbeatMonitor) State() domain.LivenessState {
	return domain.LivenessState(h.state.Load())
}

// Pong records a pong control frame. Safe to call from the read goroutine.
func (h *HeartbeatMonitor) Pong() {
	select {
	case h.pongs <- struct{}{}:
	default:
	}
}

// Run drives the ping cycle until the connection dies or ctx is canceled.
// It returns nil in both cases so a supervisor never restarts it.
func (h *HeartbeatMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var grace *time.Timer
	var expired <-chan time.Time
	disarm := func() {
		if grace != nil {
			grace.Stop()
			grace, expired = nil, nil
		}
	}
	defer disarm()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			disarm()
			if err := h.conn.Ping(); err != nil {
				h.log.Debug("Ping failed", "connection_id", h.conn.ID(), "err", err)
			}
			grace = time.NewTimer(h.grace)
			expired = grace.C
			h.state.Store(int32(domain.AwaitingPong))
		case <-h.pongs:
			if h.State() == domain.AwaitingPong {
				disarm()
				h.state.Store(int32(domain.Alive))
			}
		case <-expired:
			grace, expired = nil, nil
			h.state.Store(int32(domain.Dead))
			h.log.Info("Pong not received in time, evicting connection",
				"connection_id", h.conn.ID(), "grace", h.grace)
			if h.onDead != nil {
				h.onDead()
			}
			return nil
		}
	}
}
