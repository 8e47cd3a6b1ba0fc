package services

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"
)

type IAuthService interface {
	Register(username, password string) (Session, error)
	Login(username, password string) (Session, error)
	Profile(token string) (domain.Identity, error)
}

// Session is what the REST layer needs to set the cookie.
type Session struct {
	UserID    string
	Username  string
	Token     string
	ExpiresAt time.Time
}

type AuthService struct {
	log            *slog.Logger
	userRepository repositories.IUserRepository
	tokens         *auth.TokenIssuer
}

func NewAuthService(log *slog.Logger, repo repositories.IUserRepository,
	tokens *auth.TokenIssuer) *AuthService {
	return &AuthService{
		log:            log,
		userRepository: repo,
		tokens:         tokens,
	}
}

func (s *AuthService) Register(username, password string) (Session, error) {
	// Validation runs before any expensive cryptographic operation.
	if err := auth.ValidateRegister(auth.RegisterRequest{Username: username, Password: password}); err != nil {
		return Session{}, err
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return Session{}, fmt.Errorf("hashing failed: %w", err)
	}

	user, err := s.userRepository.CreateUser(username, hashedPassword)
	if err != nil {
		return Session{}, err
	}
	s.log.Info("User registered", "user_id", user.ID, "username", user.Username)
	return s.issue(user)
}

func (s *AuthService) Login(username, password string) (Session, error) {
	if err := auth.ValidateLogin(auth.LoginRequest{Username: username, Password: password}); err != nil {
		return Session{}, err
	}
	user, err := s.userRepository.GetUserByUsername(username)
	if err != nil {
		if !stderrors.Is(err, errors.ErrUserNotFound) {
			s.log.Error("User lookup failed", "error", err)
		}
		// Generic error to prevent user enumeration
		return Session{}, errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return Session{}, errors.ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *AuthService) Profile(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, errors.ErrUnauthenticated
	}
	identity, err := s.tokens.Verify(token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}
	return identity, nil
}

func (s *AuthService) issue(user repositories.User) (Session, error) {
	token, expiresAt, err := s.tokens.IssueToken(user.ID, user.Username)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:    user.ID,
		Username:  user.Username,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}
