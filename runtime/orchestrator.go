// Package runtime holds the relay core: the connection registry, identity
// binding, presence broadcasting, message relay and the orchestration of a
// connection's lifecycle.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/runtime/workers"
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type Config struct {
	PingInterval             time.Duration
	PongGrace                time.Duration
	BroadcastOnGracefulClose bool
}

// Session is the orchestrator's handle on one accepted connection.
type Session struct {
	Handle   string
	Conn     contract.Connection
	Identity *domain.Identity
	monitor  *workers.HeartbeatMonitor
	inbox    *workers.InboxWorker
	cancel   context.CancelFunc
	once     sync.Once
}

func (s *Session) Liveness() domain.LivenessState {
	return s.monitor.State()
}

// Orchestrator drives the lifecycle of every connection:
// connect -> bind identity -> register -> heartbeat -> presence broadcast,
// inbound messages -> relay, and teardown by graceful close or eviction.
type Orchestrator struct {
	mu         sync.Mutex
	log        *slog.Logger
	config     Config
	supervisor contract.ISupervisor
	registry   contract.IRegistry
	binder     *IdentityBinder
	presence   contract.PresenceNotifier
	relay      *MessageRelay
	baseCtx    context.Context
	cancel     context.CancelFunc
	stopped    bool
	sessions   map[string]*Session
}

func NewOrchestrator(log *slog.Logger, config Config, supervisor contract.ISupervisor,
	registry contract.IRegistry, binder *IdentityBinder, presence contract.PresenceNotifier,
	relay *MessageRelay) *Orchestrator {
	if config.PingInterval <= 0 {
		config.PingInterval = workers.DefaultPingInterval
	}
	if config.PongGrace <= 0 {
		config.PongGrace = workers.DefaultPongGrace
	}
	return &Orchestrator{
		log:        log,
		config:     config,
		supervisor: supervisor,
		registry:   registry,
		binder:     binder,
		presence:   presence,
		relay:      relay,
		baseCtx:    context.Background(),
		sessions:   make(map[string]*Session),
	}
}

// Add registers background workers started by Run.
func (o *Orchestrator) Add(worker ...contract.Worker) {
	o.supervisor.Add(worker...)
}

// Run starts the supervised workers and blocks until ctx is canceled or Stop
// is called and all of them have returned. Remaining connections are then
// closed.
func (o *Orchestrator) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	if o.stopped {
		cancel()
	}
	o.baseCtx = runCtx
	o.cancel = cancel
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers")
	o.supervisor.Run(runCtx)
	o.closeAll()
	o.log.Info("Orchestrator stopped")
}

// Stop cancels the supervised workers and every session's workers, which
// lets Run return.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.mu.Lock()
	o.stopped = true
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()
	o.supervisor.Stop()
}

// Connect accepts a connection whose upgrade request carried header.
// The connection is registered even when no identity can be bound, and every
// registered connection, this one included, receives the new presence.
func (o *Orchestrator) Connect(ctx context.Context, conn contract.Connection, header http.Header) *Session {
	identity, _ := o.binder.Resolve(header)
	handle := o.registry.Add(conn, identity)

	o.mu.Lock()
	sessionCtx, cancel := context.WithCancel(o.baseCtx)
	session := &Session{Handle: handle, Conn: conn, Identity: identity, cancel: cancel}
	o.sessions[handle] = session
	o.mu.Unlock()

	session.monitor = workers.NewHeartbeatMonitor(o.log, conn,
		o.config.PingInterval, o.config.PongGrace, func() { o.evict(session) })
	session.inbox = workers.NewInboxWorker(o.log,
		func(ctx context.Context, payload []byte) { o.handle(ctx, session, payload) })
	o.supervisor.Start(sessionCtx, session.monitor)
	o.supervisor.Start(sessionCtx, session.inbox)

	o.log.InfoContext(ctx, "Connection registered",
		"connection_id", conn.ID(), "handle", handle, "authenticated", identity != nil)
	o.presence.Broadcast(ctx)
	return session
}

// Receive queues a raw payload read from the session's socket. It never
// blocks and never drops.
func (o *Orchestrator) Receive(session *Session, payload []byte) {
	session.inbox.Enqueue(payload)
}

// Pong forwards a pong control frame to the session's heartbeat.
func (o *Orchestrator) Pong(session *Session) {
	session.monitor.Pong()
}

// Disconnect handles a socket closed by the peer or a read failure.
// Presence is not rebroadcast unless BroadcastOnGracefulClose is set.
func (o *Orchestrator) Disconnect(ctx context.Context, session *Session) {
	removed := o.teardown(session)
	if !removed {
		return
	}
	o.log.InfoContext(ctx, "Connection closed", "connection_id", session.Conn.ID(), "handle", session.Handle)
	if o.config.BroadcastOnGracefulClose {
		o.presence.Broadcast(ctx)
	}
}

// evict is the Dead transition of the heartbeat: force close, unregister and
// notify everyone.
func (o *Orchestrator) evict(session *Session) {
	if !o.teardown(session) {
		return
	}
	o.log.Info("Connection evicted", "connection_id", session.Conn.ID(), "handle", session.Handle)
	o.presence.Broadcast(context.Background())
}

// teardown runs once per session and reports whether this call removed the
// entry from the registry.
func (o *Orchestrator) teardown(session *Session) bool {
	removed := false
	session.once.Do(func() {
		session.cancel()
		session.Conn.Close()
		removed = o.registry.Remove(session.Handle)
		o.mu.Lock()
		delete(o.sessions, session.Handle)
		o.mu.Unlock()
	})
	return removed
}

func (o *Orchestrator) closeAll() {
	o.mu.Lock()
	sessions := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()
	for _, s := range sessions {
		o.teardown(s)
	}
}

// handle is the contained handler of one inbound message: failures are
// logged and the message dropped, panics included.
func (o *Orchestrator) handle(ctx context.Context, session *Session, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Message handling panicked, message dropped",
				"connection_id", session.Conn.ID(), "panic", r)
		}
	}()

	// A message already being relayed completes even if its sender goes away.
	delivery, err := o.relay.HandleInbound(context.WithoutCancel(ctx), session.Handle, payload)
	switch {
	case err == nil:
		o.log.DebugContext(ctx, "Message relayed",
			"message_id", delivery.Message.ID, "recipient", delivery.Message.RecipientID,
			"delivered", delivery.Delivered)
	case stderrors.Is(err, errors.ErrMalformedMessage),
		stderrors.Is(err, errors.ErrUnauthenticated),
		stderrors.Is(err, errors.ErrEntryNotFound):
		o.log.DebugContext(ctx, "Message discarded", "connection_id", session.Conn.ID(), "reason", err)
	default:
		o.log.WarnContext(ctx, "Message dropped", "connection_id", session.Conn.ID(), "err", err)
	}
}
