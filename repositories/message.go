package repositories

import (
	"chat-relay/domain"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type MessageRepository struct {
	db    *badger.DB
	log   *slog.Logger
	clock func() time.Time
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log, clock: time.Now}
}

// Create persists a message and assigns its ID and CreatedAt.
// The key is formatted as "msg:{lower}|{higher}:{timestamp_padded}:{uuid}" so that:
//  1. both directions of a conversation share a prefix,
//  2. a forward prefix scan returns messages in chronological order thanks
//     to the 19-digit zero padding,
//  3. two messages created in the same nanosecond never overwrite each other.
func (m *MessageRepository) Create(ctx context.Context, senderID, recipientID string,
	text, fileRef *string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	message := domain.Message{
		ID:          uuid.New(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Text:        text,
		FileRef:     fileRef,
		CreatedAt:   m.clock().UTC(),
	}
	key := fmt.Sprintf("%s%019d:%s", pairPrefix(senderID, recipientID),
		message.CreatedAt.UnixNano(), message.ID)

	value, err := encodeRecord(map[string]any{
		"id":         message.ID.String(),
		"sender":     message.SenderID,
		"recipient":  message.RecipientID,
		"text":       optionalValue(message.Text),
		"file":       optionalValue(message.FileRef),
		"created_at": message.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return domain.Message{}, err
	}
	if err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	}); err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// Query returns every message whose sender and recipient both belong to
// {userA, userB}, self-addressed messages included, oldest first.
// It never writes.
func (m *MessageRepository) Query(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefixes := lo.Uniq([]string{
		pairPrefix(userA, userB),
		pairPrefix(userA, userA),
		pairPrefix(userB, userB),
	})

	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		for _, prefix := range prefixes {
			scanned, err := scanPrefix(txn, []byte(prefix))
			if err != nil {
				return err
			}
			messages = append(messages, scanned...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID.String() < messages[j].ID.String()
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	m.log.Debug("History loaded", "user_a", userA, "user_b", userB, "count", len(messages))
	return messages, nil
}

func scanPrefix(txn *badger.Txn, prefix []byte) ([]domain.Message, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var messages []domain.Message
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var message domain.Message
		err := it.Item().Value(func(value []byte) error {
			var err error
			message, err = toMessage(value)
			return err
		})
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func toMessage(value []byte) (domain.Message, error) {
	record, err := decodeRecord(value)
	if err != nil {
		return domain.Message{}, err
	}
	id, err := uuid.Parse(stringField(record, "id"))
	if err != nil {
		return domain.Message{}, err
	}
	createdAt, err := timeField(record, "created_at")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:          id,
		SenderID:    stringField(record, "sender"),
		RecipientID: stringField(record, "recipient"),
		Text:        optionalStringField(record, "text"),
		FileRef:     optionalStringField(record, "file"),
		CreatedAt:   createdAt,
	}, nil
}

// pairPrefix is order independent. IDs are escaped so that separators in a
// client supplied recipient cannot reach another conversation's keys.
func pairPrefix(a, b string) string {
	a, b = url.QueryEscape(a), url.QueryEscape(b)
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("msg:%s|%s:", a, b)
}
