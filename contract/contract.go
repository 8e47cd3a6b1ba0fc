//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"context"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// It is used for logging during supervision.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Connection is one live client session as seen by the relay.
// Send and Ping never block on a slow peer.
type Connection interface {
	ID() string
	Send(data []byte) error
	Ping() error
	Close()
}

// Entry pairs a live connection with its identity snapshot.
// Identity is nil while the connection is anonymous.
type Entry struct {
	Handle      string
	Conn        Connection
	Identity    *domain.Identity
	ConnectedAt time.Time
}

// IRegistry is the authoritative set of live connections.
type IRegistry interface {
	Add(conn Connection, identity *domain.Identity) string
	Remove(handle string) bool
	BindIdentity(handle string, identity domain.Identity) error
	Get(handle string) (Entry, bool)
	Snapshot() []Entry
	FindByUser(userID string) []Entry
	Len() int
}

// IdentityVerifier resolves a handshake credential into a user identity.
type IdentityVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// MessageStore persists messages; it assigns ID and CreatedAt.
type MessageStore interface {
	Create(ctx context.Context, senderID, recipientID string, text, fileRef *string) (domain.Message, error)
	Query(ctx context.Context, userA, userB string) ([]domain.Message, error)
}

// BlobStore keeps attachment bytes under a generated key.
type BlobStore interface {
	Store(ctx context.Context, fileName string, data []byte) (string, error)
	Retrieve(ctx context.Context, key string) ([]byte, error)
}

// PresenceNotifier pushes the current presence snapshot to every connection.
type PresenceNotifier interface {
	Broadcast(ctx context.Context) int
}
