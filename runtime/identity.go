package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"log/slog"
	"net/http"
)

// IdentityBinder resolves the identity of a freshly accepted connection from
// the cookie sent with its upgrade request. Binding is best effort: a missing
// or invalid credential leaves the connection anonymous and never rejects it.
type IdentityBinder struct {
	log        *slog.Logger
	verifier   contract.IdentityVerifier
	registry   contract.IRegistry
	cookieName string
}

func NewIdentityBinder(log *slog.Logger, verifier contract.IdentityVerifier,
	registry contract.IRegistry, cookieName string) *IdentityBinder {
	return &IdentityBinder{log: log, verifier: verifier, registry: registry, cookieName: cookieName}
}

// Resolve extracts and verifies the credential from handshake headers.
func (b *IdentityBinder) Resolve(header http.Header) (*domain.Identity, bool) {
	token := b.token(header)
	if token == "" {
		return nil, false
	}
	identity, err := b.verifier.Verify(token)
	if err != nil {
		b.log.Debug("Handshake credential rejected, connection stays anonymous", "err", err)
		return nil, false
	}
	return &identity, true
}

// Bind resolves the identity and attaches it to the registry entry.
func (b *IdentityBinder) Bind(handle string, header http.Header) (*domain.Identity, bool) {
	identity, ok := b.Resolve(header)
	if !ok {
		return nil, false
	}
	if err := b.registry.BindIdentity(handle, *identity); err != nil {
		b.log.Warn("Identity binding failed", "handle", handle, "user_id", identity.UserID, "err", err)
		return nil, false
	}
	return identity, true
}

func (b *IdentityBinder) token(header http.Header) string {
	if header == nil {
		return ""
	}
	cookie, err := (&http.Request{Header: header}).Cookie(b.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
