package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
)

// Delivery is the outcome of a relayed message.
type Delivery struct {
	Message   domain.Message
	Delivered int
}

// MessageRelay validates inbound events, stores attachments, persists the
// message and forwards it to the live sessions of the recipient.
type MessageRelay struct {
	log          *slog.Logger
	registry     contract.IRegistry
	store        contract.MessageStore
	blobs        contract.BlobStore
	storeTimeout time.Duration
}

func NewMessageRelay(log *slog.Logger, registry contract.IRegistry, store contract.MessageStore,
	blobs contract.BlobStore, storeTimeout time.Duration) *MessageRelay {
	return &MessageRelay{log: log, registry: registry, store: store, blobs: blobs, storeTimeout: storeTimeout}
}

// HandleInbound relays one raw payload received on the connection identified
// by handle. Every failure is returned as a value wrapping one of
// ErrMalformedMessage, ErrUnauthenticated, ErrBlobStore, ErrPersistence or
// ErrEntryNotFound; nothing is sent back to the sender.
func (m *MessageRelay) HandleInbound(ctx context.Context, handle string, payload []byte) (Delivery, error) {
	in, err := domain.ParseInbound(payload)
	if err != nil {
		return Delivery{}, err
	}
	sender, ok := m.registry.Get(handle)
	if !ok {
		return Delivery{}, errors.ErrEntryNotFound
	}
	if sender.Identity == nil {
		return Delivery{}, errors.ErrUnauthenticated
	}

	var fileRef *string
	if in.HasFile() {
		data, err := in.File.Bytes()
		if err != nil {
			return Delivery{}, err
		}
		key, err := m.storeBlob(ctx, in.File.FileName, data)
		if err != nil {
			return Delivery{}, fmt.Errorf("%w: %v", errors.ErrBlobStore, err)
		}
		fileRef = lo.ToPtr(key)
	}

	var text *string
	if in.Text != "" {
		text = lo.ToPtr(in.Text)
	}
	message, err := m.persist(ctx, sender.Identity.UserID, in.Recipient, text, fileRef)
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}

	// Recipients are resolved only now: the registry may have changed while
	// the store calls were in flight.
	return Delivery{Message: message, Delivered: m.deliver(ctx, message)}, nil
}

// deliver sends to every session of the recipient. Sessions of the sender are
// never added for being the sender, so a message to oneself reaches all of
// one's sessions, the originating one included.
func (m *MessageRelay) deliver(ctx context.Context, message domain.Message) int {
	data, err := domain.EncodeFrame(domain.NewDeliveryFrame(message))
	if err != nil {
		m.log.ErrorContext(ctx, "Delivery frame encoding failed", "message_id", message.ID, "err", err)
		return 0
	}
	delivered := 0
	for _, entry := range m.registry.FindByUser(message.RecipientID) {
		if err := entry.Conn.Send(data); err != nil {
			m.log.WarnContext(ctx, "Delivery send failed",
				"message_id", message.ID, "connection_id", entry.Conn.ID(), "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (m *MessageRelay) storeBlob(ctx context.Context, fileName string, data []byte) (string, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.blobs.Store(ctx, fileName, data)
}

func (m *MessageRelay) persist(ctx context.Context, senderID, recipientID string, text, fileRef *string) (domain.Message, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.store.Create(ctx, senderID, recipientID, text, fileRef)
}

func (m *MessageRelay) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.storeTimeout)
}
