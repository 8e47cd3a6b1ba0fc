package runtime

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type relayFixture struct {
	registry *Registry
	store    *mocks.MockMessageStore
	blobs    *mocks.MockBlobStore
	relay    *MessageRelay
}

func newRelayFixture(t *testing.T) relayFixture {
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	store := mocks.NewMockMessageStore(ctrl)
	blobs := mocks.NewMockBlobStore(ctrl)
	return relayFixture{
		registry: registry,
		store:    store,
		blobs:    blobs,
		relay:    NewMessageRelay(slog.Default(), registry, store, blobs, time.Second),
	}
}

// persisted mimics the store: it echoes the arguments back with an ID.
func persisted(_ context.Context, sender, recipient string, text, file *string) (domain.Message, error) {
	return domain.Message{
		ID:          uuid.New(),
		SenderID:    sender,
		RecipientID: recipient,
		Text:        text,
		FileRef:     file,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func TestRelay_Delivers_To_Every_Recipient_Session(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	aliceConn, bobPhone, bobLaptop, carolConn := newFakeConn(), newFakeConn(), newFakeConn(), newFakeConn()
	alice := f.registry.Add(aliceConn, &domain.Identity{UserID: "u1", Username: "alice"})
	f.registry.Add(bobPhone, &domain.Identity{UserID: "u2", Username: "bob"})
	f.registry.Add(bobLaptop, &domain.Identity{UserID: "u2", Username: "bob"})
	f.registry.Add(carolConn, &domain.Identity{UserID: "u3", Username: "carol"})

	f.store.EXPECT().
		Create(gomock.Any(), "u1", "u2", lo.ToPtr("hi bob"), nil).
		DoAndReturn(persisted).
		Times(1)

	delivery, err := f.relay.HandleInbound(context.Background(), alice, []byte(`{"recipient":"u2","text":"hi bob"}`))
	req.NoError(err)
	req.Equal(2, delivery.Delivered)

	for _, conn := range []*fakeConn{bobPhone, bobLaptop} {
		frames := conn.deliveries(t)
		req.Len(frames, 1)
		req.Equal(delivery.Message.ID.String(), frames[0].ID)
		req.Equal("u1", frames[0].Sender)
		req.Equal("u2", frames[0].Recipient)
		req.Equal("hi bob", *frames[0].Text)
		req.Nil(frames[0].File)
	}
	req.Empty(aliceConn.deliveries(t))
	req.Empty(carolConn.deliveries(t))
}

func TestRelay_Offline_Recipient_Is_Still_Persisted(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)
	alice := f.registry.Add(newFakeConn(), &domain.Identity{UserID: "u1"})

	f.store.EXPECT().Create(gomock.Any(), "u1", "u9", gomock.Any(), nil).DoAndReturn(persisted).Times(1)

	delivery, err := f.relay.HandleInbound(context.Background(), alice, []byte(`{"recipient":"u9","text":"later"}`))
	req.NoError(err)
	req.Zero(delivery.Delivered)
}

func TestRelay_Self_Addressed_Reaches_Every_Own_Session(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)
	phone, laptop, other := newFakeConn(), newFakeConn(), newFakeConn()
	origin := f.registry.Add(phone, &domain.Identity{UserID: "u1"})
	f.registry.Add(laptop, &domain.Identity{UserID: "u1"})
	f.registry.Add(other, &domain.Identity{UserID: "u2"})

	f.store.EXPECT().Create(gomock.Any(), "u1", "u1", gomock.Any(), nil).DoAndReturn(persisted).Times(1)

	delivery, err := f.relay.HandleInbound(context.Background(), origin, []byte(`{"recipient":"u1","text":"note"}`))
	req.NoError(err)
	req.Equal(2, delivery.Delivered)
	req.Len(phone.deliveries(t), 1)
	req.Len(laptop.deliveries(t), 1)
	req.Empty(other.deliveries(t))
}

func TestRelay_Stores_Attachment_Before_Persisting(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)
	alice := f.registry.Add(newFakeConn(), &domain.Identity{UserID: "u1"})
	bob := newFakeConn()
	f.registry.Add(bob, &domain.Identity{UserID: "u2"})

	gomock.InOrder(
		f.blobs.EXPECT().Store(gomock.Any(), "notes.txt", []byte("hi")).Return("1700000000000.txt", nil),
		f.store.EXPECT().
			Create(gomock.Any(), "u1", "u2", nil, lo.ToPtr("1700000000000.txt")).
			DoAndReturn(persisted),
	)

	payload := `{"recipient":"u2","file":{"fileName":"notes.txt","data":"data:text/plain;base64,aGk="}}`
	_, err := f.relay.HandleInbound(context.Background(), alice, []byte(payload))
	req.NoError(err)

	frames := bob.deliveries(t)
	req.Len(frames, 1)
	req.Nil(frames[0].Text)
	req.Equal("1700000000000.txt", *frames[0].File)
}

func TestRelay_Rejects_Without_Side_Effects(t *testing.T) {
	tests := []struct {
		name     string
		identity *domain.Identity
		payload  string
		want     error
	}{
		{"Malformed JSON", &domain.Identity{UserID: "u1"}, `{"recipient"`, errors.ErrMalformedMessage},
		{"Missing recipient", &domain.Identity{UserID: "u1"}, `{"text":"hi"}`, errors.ErrMissingRecipient},
		{"Neither text nor file", &domain.Identity{UserID: "u1"}, `{"recipient":"u2"}`, errors.ErrEmptyMessage},
		{"Broken data URL", &domain.Identity{UserID: "u1"},
			`{"recipient":"u2","file":{"fileName":"a.png","data":"data:image/png;base64,@@@"}}`, errors.ErrInvalidDataURL},
		{"Anonymous sender", nil, `{"recipient":"u2","text":"hi"}`, errors.ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newRelayFixture(t)
			bob := newFakeConn()
			f.registry.Add(bob, &domain.Identity{UserID: "u2"})
			handle := f.registry.Add(newFakeConn(), tt.identity)

			// No expectation set: any store call fails the test
			_, err := f.relay.HandleInbound(context.Background(), handle, []byte(tt.payload))
			req.ErrorIs(err, tt.want)
			req.Empty(bob.deliveries(t))
		})
	}
}

func TestRelay_Unknown_Handle(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	_, err := f.relay.HandleInbound(context.Background(), "gone", []byte(`{"recipient":"u2","text":"hi"}`))
	req.ErrorIs(err, errors.ErrEntryNotFound)
}

func TestRelay_Store_Failure_Delivers_Nothing(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)
	alice := f.registry.Add(newFakeConn(), &domain.Identity{UserID: "u1"})
	bob := newFakeConn()
	f.registry.Add(bob, &domain.Identity{UserID: "u2"})

	f.store.EXPECT().Create(gomock.Any(), "u1", "u2", gomock.Any(), nil).
		Return(domain.Message{}, fmt.Errorf("disk full"))

	_, err := f.relay.HandleInbound(context.Background(), alice, []byte(`{"recipient":"u2","text":"hi"}`))
	req.ErrorIs(err, errors.ErrPersistence)
	req.Empty(bob.deliveries(t))
}

func TestRelay_Blob_Failure_Skips_Persistence(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)
	alice := f.registry.Add(newFakeConn(), &domain.Identity{UserID: "u1"})

	f.blobs.EXPECT().Store(gomock.Any(), "a.txt", gomock.Any()).Return("", fmt.Errorf("read-only fs"))

	payload := `{"recipient":"u2","text":"see attached","file":{"fileName":"a.txt","data":"aGk="}}`
	_, err := f.relay.HandleInbound(context.Background(), alice, []byte(payload))
	req.ErrorIs(err, errors.ErrBlobStore)
}

func TestRelay_Recipient_Resolved_After_Persistence(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)
	alice := f.registry.Add(newFakeConn(), &domain.Identity{UserID: "u1"})
	late := newFakeConn()

	// Bob connects while the store call is in flight
	f.store.EXPECT().Create(gomock.Any(), "u1", "u2", gomock.Any(), nil).
		DoAndReturn(func(ctx context.Context, sender, recipient string, text, file *string) (domain.Message, error) {
			f.registry.Add(late, &domain.Identity{UserID: "u2"})
			return persisted(ctx, sender, recipient, text, file)
		})

	delivery, err := f.relay.HandleInbound(context.Background(), alice, []byte(`{"recipient":"u2","text":"hi"}`))
	req.NoError(err)
	req.Equal(1, delivery.Delivered)
	req.Len(late.deliveries(t), 1)
}
