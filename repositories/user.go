//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"chat-relay/errors"
	stderrors "errors"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const userPrefix = "user:"

type IUserRepository interface {
	CreateUser(username, hashedPassword string) (User, error)
	GetUserByUsername(username string) (User, error)
	ListUsers() ([]User, error)
}

type UserRepository struct {
	db    *badger.DB
	clock func() time.Time
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db, clock: time.Now}
}

// User is the stored account, password hash included.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser persists a new account under "user:{username}".
// Usernames are unique: a second registration fails with ErrUserAlreadyExists.
func (u UserRepository) CreateUser(username, hashedPassword string) (User, error) {
	user := User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hashedPassword,
		CreatedAt:    u.clock().UTC(),
	}
	data, err := encodeRecord(map[string]any{
		"id":            user.ID,
		"username":      user.Username,
		"password_hash": user.PasswordHash,
		"created_at":    user.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return User{}, err
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		key := []byte(userPrefix + username)
		if _, err := txn.Get(key); err == nil {
			return errors.ErrUserAlreadyExists
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (u UserRepository) GetUserByUsername(username string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			user, err = toUser(val)
			return err
		})
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ListUsers returns every account ordered by username.
func (u UserRepository) ListUsers() ([]User, error) {
	var users []User
	err := u.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(userPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				user, err := toUser(val)
				if err != nil {
					return err
				}
				users = append(users, user)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func toUser(val []byte) (User, error) {
	record, err := decodeRecord(val)
	if err != nil {
		return User{}, err
	}
	createdAt, err := timeField(record, "created_at")
	if err != nil {
		return User{}, err
	}
	return User{
		ID:           stringField(record, "id"),
		Username:     stringField(record, "username"),
		PasswordHash: stringField(record, "password_hash"),
		CreatedAt:    createdAt,
	}, nil
}
