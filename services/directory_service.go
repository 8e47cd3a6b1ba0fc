package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/repositories"
	"context"

	"github.com/samber/lo"
)

type IDirectoryService interface {
	People() ([]domain.PresenceEntry, error)
	History(ctx context.Context, me, other string) ([]domain.Message, error)
}

// DirectoryService serves the read side: registered users and conversation history.
type DirectoryService struct {
	userRepository repositories.IUserRepository
	messages       contract.MessageStore
}

func NewDirectoryService(users repositories.IUserRepository, messages contract.MessageStore) *DirectoryService {
	return &DirectoryService{userRepository: users, messages: messages}
}

func (s *DirectoryService) People() ([]domain.PresenceEntry, error) {
	users, err := s.userRepository.ListUsers()
	if err != nil {
		return nil, err
	}
	return lo.Map(users, func(u repositories.User, _ int) domain.PresenceEntry {
		return domain.PresenceEntry{UserID: u.ID, Username: u.Username}
	}), nil
}

// History never returns nil so that an empty conversation encodes as [].
func (s *DirectoryService) History(ctx context.Context, me, other string) ([]domain.Message, error) {
	messages, err := s.messages.Query(ctx, me, other)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		return []domain.Message{}, nil
	}
	return messages, nil
}
