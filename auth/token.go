package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "chat-relay"

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens.
// It satisfies contract.IdentityVerifier so the websocket handshake can bind
// identities with the same secret the REST layer signs with.
type TokenIssuer struct {
	secret   []byte
	duration time.Duration
	clock    func() time.Time
}

func NewTokenIssuer(secret string, duration time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), duration: duration, clock: time.Now}
}

// GenerateToken creates a signed JWT for a specific user.
func (t *TokenIssuer) GenerateToken(userID, username string) (string, error) {
	token, _, err := t.IssueToken(userID, username)
	return token, err
}

// IssueToken is GenerateToken that also returns the expiry written into the
// claims, at the claims' second precision.
func (t *TokenIssuer) IssueToken(userID, username string) (string, time.Time, error) {
	now := t.clock()
	claims := &CustomClaims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", errors.ErrTokenGeneration, err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// ValidateToken parses and validates the signature and expiration of a JWT string.
func (t *TokenIssuer) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errors.ErrInvalidToken
	}
	return claims, nil
}

// Verify maps a token to the identity it was issued for.
func (t *TokenIssuer) Verify(token string) (domain.Identity, error) {
	claims, err := t.ValidateToken(token)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}
