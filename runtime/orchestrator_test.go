package runtime

import (
	"chat-relay/domain"
	"chat-relay/mocks"
	"chat-relay/runtime/workers"
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type orchestratorFixture struct {
	registry     *Registry
	verifier     *mocks.MockIdentityVerifier
	store        *mocks.MockMessageStore
	orchestrator *Orchestrator
}

func newOrchestratorFixture(t *testing.T, config Config) orchestratorFixture {
	ctrl := gomock.NewController(t)
	log := slog.Default()
	registry := NewRegistry()
	verifier := mocks.NewMockIdentityVerifier(ctrl)
	store := mocks.NewMockMessageStore(ctrl)
	supervisor := workers.NewSupervisor(log, 10*time.Millisecond)

	orchestrator := NewOrchestrator(log, config, supervisor, registry,
		NewIdentityBinder(log, verifier, registry, "token"),
		NewPresenceBroadcaster(log, registry, true),
		NewMessageRelay(log, registry, store, mocks.NewMockBlobStore(ctrl), time.Second),
	)
	t.Cleanup(func() {
		orchestrator.Stop()
		orchestrator.closeAll()
	})
	return orchestratorFixture{registry: registry, verifier: verifier, store: store, orchestrator: orchestrator}
}

// longHeartbeat keeps monitors out of the way of tests that are not about liveness.
var longHeartbeat = Config{PingInterval: time.Hour, PongGrace: time.Minute}

func (f orchestratorFixture) connectAs(t *testing.T, conn *fakeConn, token string, identity domain.Identity) *Session {
	t.Helper()
	f.verifier.EXPECT().Verify(token).Return(identity, nil)
	return f.orchestrator.Connect(context.Background(), conn, cookieHeader("token", token))
}

func TestOrchestrator_New_Connection_Sees_Itself_In_Presence(t *testing.T) {
	req := require.New(t)
	f := newOrchestratorFixture(t, longHeartbeat)

	alice, bob := newFakeConn(), newFakeConn()
	f.connectAs(t, alice, "alice-token", domain.Identity{UserID: "u1", Username: "alice"})
	f.connectAs(t, bob, "bob-token", domain.Identity{UserID: "u2", Username: "bob"})

	want := []domain.PresenceEntry{{UserID: "u1", Username: "alice"}, {UserID: "u2", Username: "bob"}}
	for _, conn := range []*fakeConn{alice, bob} {
		frame, ok := conn.lastPresence(t)
		req.True(ok)
		req.Equal(want, frame.Online)
	}
}

func TestOrchestrator_Identity_Is_Resolved_Before_Registration(t *testing.T) {
	req := require.New(t)
	f := newOrchestratorFixture(t, longHeartbeat)

	// Given a verifier that observes the registry while verifying
	seenDuringVerify := -1
	f.verifier.EXPECT().Verify("alice-token").DoAndReturn(func(string) (domain.Identity, error) {
		seenDuringVerify = f.registry.Len()
		return domain.Identity{UserID: "u1", Username: "alice"}, nil
	})

	// When the connection is accepted
	session := f.orchestrator.Connect(context.Background(), newFakeConn(), cookieHeader("token", "alice-token"))

	// Then nothing was registered before the identity was known
	req.Zero(seenDuringVerify)
	entry, ok := f.registry.Get(session.Handle)
	req.True(ok)
	req.NotNil(entry.Identity)
	req.Equal("u1", entry.Identity.UserID)
}

func TestOrchestrator_Anonymous_Connection_Is_Accepted(t *testing.T) {
	req := require.New(t)
	f := newOrchestratorFixture(t, longHeartbeat)

	conn := newFakeConn()
	session := f.orchestrator.Connect(context.Background(), conn, http.Header{})
	req.Nil(session.Identity)
	req.Equal(1, f.registry.Len())

	frame, ok := conn.lastPresence(t)
	req.True(ok)
	req.Equal([]domain.PresenceEntry{{}}, frame.Online)
}

func TestOrchestrator_Graceful_Close_Does_Not_Broadcast(t *testing.T) {
	req := require.New(t)
	f := newOrchestratorFixture(t, longHeartbeat)

	alice, bob := newFakeConn(), newFakeConn()
	f.connectAs(t, alice, "alice-token", domain.Identity{UserID: "u1", Username: "alice"})
	session := f.connectAs(t, bob, "bob-token", domain.Identity{UserID: "u2", Username: "bob"})
	alice.reset()

	f.orchestrator.Disconnect(context.Background(), session)
	req.Equal(1, f.registry.Len())
	req.True(bob.isClosed())
	req.Empty(alice.frames(t))

	// A second close of the same session is a no-op
	f.orchestrator.Disconnect(context.Background(), session)
	req.Equal(1, f.registry.Len())
}

func TestOrchestrator_Graceful_Close_Broadcasts_When_Enabled(t *testing.T) {
	req := require.New(t)
	config := longHeartbeat
	config.BroadcastOnGracefulClose = true
	f := newOrchestratorFixture(t, config)

	alice, bob := newFakeConn(), newFakeConn()
	f.connectAs(t, alice, "alice-token", domain.Identity{UserID: "u1", Username: "alice"})
	session := f.connectAs(t, bob, "bob-token", domain.Identity{UserID: "u2", Username: "bob"})

	f.orchestrator.Disconnect(context.Background(), session)
	frame, ok := alice.lastPresence(t)
	req.True(ok)
	req.Equal([]domain.PresenceEntry{{UserID: "u1", Username: "alice"}}, frame.Online)
}

func TestOrchestrator_Silent_Peer_Is_Evicted_And_Announced(t *testing.T) {
	req := require.New(t)
	f := newOrchestratorFixture(t, Config{PingInterval: 40 * time.Millisecond, PongGrace: 15 * time.Millisecond})

	alice, ghost := newFakeConn(), newFakeConn()
	aliceSession := f.connectAs(t, alice, "alice-token", domain.Identity{UserID: "u1", Username: "alice"})
	alice.setOnPing(func() { f.orchestrator.Pong(aliceSession) })
	ghostSession := f.connectAs(t, ghost, "ghost-token", domain.Identity{UserID: "u2", Username: "ghost"})

	req.Eventually(func() bool { return f.registry.Len() == 1 }, waitFor, tick)
	req.True(ghost.isClosed())
	req.Equal(domain.Dead, ghostSession.Liveness())
	req.Len(f.registry.FindByUser("u2"), 0)

	req.Eventually(func() bool {
		frame, ok := alice.lastPresence(t)
		return ok && len(frame.Online) == 1 && frame.Online[0].UserID == "u1"
	}, waitFor, tick)
	req.False(alice.isClosed())
}

func TestOrchestrator_Relays_Received_Message(t *testing.T) {
	req := require.New(t)
	f := newOrchestratorFixture(t, longHeartbeat)

	alice, bob := newFakeConn(), newFakeConn()
	aliceSession := f.connectAs(t, alice, "alice-token", domain.Identity{UserID: "u1", Username: "alice"})
	f.connectAs(t, bob, "bob-token", domain.Identity{UserID: "u2", Username: "bob"})

	f.store.EXPECT().Create(gomock.Any(), "u1", "u2", gomock.Any(), nil).DoAndReturn(persisted)

	// Malformed input is contained and the session keeps working
	f.orchestrator.Receive(aliceSession, []byte(`{"text":"no recipient"}`))
	f.orchestrator.Receive(aliceSession, []byte(`{"recipient":"u2","text":"hello"}`))

	req.Eventually(func() bool { return len(bob.deliveries(t)) == 1 }, waitFor, tick)
	req.Equal("hello", *bob.deliveries(t)[0].Text)
	req.False(alice.isClosed())
}

func TestOrchestrator_Slow_Store_Loses_No_Message(t *testing.T) {
	req := require.New(t)
	f := newOrchestratorFixture(t, longHeartbeat)

	alice, bob := newFakeConn(), newFakeConn()
	aliceSession := f.connectAs(t, alice, "alice-token", domain.Identity{UserID: "u1", Username: "alice"})
	f.connectAs(t, bob, "bob-token", domain.Identity{UserID: "u2", Username: "bob"})

	// Given a store that blocks until released
	const total = 100
	release := make(chan struct{})
	var stored atomic.Int32
	f.store.EXPECT().Create(gomock.Any(), "u1", "u2", gomock.Any(), nil).
		DoAndReturn(func(ctx context.Context, sender, recipient string, text, file *string) (domain.Message, error) {
			<-release
			stored.Add(1)
			return persisted(ctx, sender, recipient, text, file)
		}).Times(total)

	// When many messages arrive while the store is stuck
	for range total {
		f.orchestrator.Receive(aliceSession, []byte(`{"recipient":"u2","text":"hi"}`))
	}
	close(release)

	// Then every one of them is persisted and delivered
	req.Eventually(func() bool { return stored.Load() == total }, 2*waitFor, tick)
	req.Eventually(func() bool { return len(bob.deliveries(t)) == total }, waitFor, tick)
}

func TestOrchestrator_Stop_Ends_Run_With_Live_Sessions(t *testing.T) {
	req := require.New(t)
	f := newOrchestratorFixture(t, longHeartbeat)
	ctrl := gomock.NewController(t)
	worker := mocks.NewMockWorker(ctrl)

	started := make(chan struct{})
	worker.EXPECT().Run(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	f.orchestrator.Add(worker)

	done := make(chan struct{})
	go func() {
		f.orchestrator.Run(context.Background())
		close(done)
	}()
	<-started

	conn := newFakeConn()
	f.connectAs(t, conn, "alice-token", domain.Identity{UserID: "u1", Username: "alice"})
	f.orchestrator.Stop()

	select {
	case <-done:
	case <-time.After(waitFor):
		req.Fail("Run should return after Stop")
	}
	req.True(conn.isClosed())
	req.Zero(f.registry.Len())
}

func TestOrchestrator_Run_Closes_Remaining_Connections(t *testing.T) {
	req := require.New(t)
	f := newOrchestratorFixture(t, longHeartbeat)
	ctrl := gomock.NewController(t)
	worker := mocks.NewMockWorker(ctrl)

	started := make(chan struct{})
	worker.EXPECT().Run(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	f.orchestrator.Add(worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.orchestrator.Run(ctx)
		close(done)
	}()
	<-started

	conn := newFakeConn()
	f.orchestrator.Connect(context.Background(), conn, nil)
	cancel()

	select {
	case <-done:
	case <-time.After(waitFor):
		req.Fail("Run should return after cancellation")
	}
	req.True(conn.isClosed())
	req.Zero(f.registry.Len())
}
