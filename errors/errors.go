package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrMalformedMessage = fmt.Errorf("malformed message")
	ErrMissingRecipient = fmt.Errorf("%w: recipient is missing", ErrMalformedMessage)
	ErrEmptyMessage     = fmt.Errorf("%w: neither text nor file", ErrMalformedMessage)
	ErrInvalidDataURL   = fmt.Errorf("%w: invalid file data", ErrMalformedMessage)
	ErrUnknownFrame     = fmt.Errorf("unknown frame type")
	ErrMalformedFrame   = fmt.Errorf("malformed frame")

	ErrUnauthenticated     = fmt.Errorf("unauthenticated")
	ErrInvalidCredentials  = fmt.Errorf("invalid credentials")
	ErrInvalidToken        = fmt.Errorf("invalid or expired token")
	ErrUserAlreadyExists   = fmt.Errorf("user already exists")
	ErrUserNotFound        = fmt.Errorf("user not found")
	ErrInvalidRegistration = fmt.Errorf("invalid registration")
	ErrTokenGeneration     = fmt.Errorf("token generation failed")

	ErrEntryNotFound        = fmt.Errorf("registry entry not found")
	ErrIdentityAlreadyBound = fmt.Errorf("identity already bound")
	ErrConnectionClosed     = fmt.Errorf("connection closed")

	ErrPersistence  = fmt.Errorf("message persistence failed")
	ErrBlobStore    = fmt.Errorf("blob store failed")
	ErrBlobNotFound = fmt.Errorf("blob not found")

	ErrInvalidHeartbeat = fmt.Errorf("pong grace period must be positive and shorter than the ping interval")
)
