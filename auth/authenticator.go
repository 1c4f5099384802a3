package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"chat-relay/domain"
	"chat-relay/errors"
)

const (
	tokenQueryParam = "token"
	sessionCookie   = "session"
	bearerPrefix    = "Bearer "
)

// TokenAuthenticator resolves a handshake token into an identity.
type TokenAuthenticator struct {
	log    *slog.Logger
	issuer *TokenIssuer
}

func NewTokenAuthenticator(log *slog.Logger, issuer *TokenIssuer) *TokenAuthenticator {
	return &TokenAuthenticator{log: log, issuer: issuer}
}

func (a *TokenAuthenticator) CurrentUser(_ context.Context, handshake domain.Handshake) (domain.Identity, error) {
	if handshake.Token == "" {
		return domain.Identity{}, errors.ErrUnauthenticated
	}
	claims, err := a.issuer.Validate(handshake.Token)
	if err != nil {
		a.log.Debug("rejected token", "remote_addr", handshake.RemoteAddr, "error", err)
		return domain.Identity{}, err
	}
	return domain.Identity{ID: domain.UserID(claims.UserID), Username: claims.Username}, nil
}

// HandshakeFromRequest collects the credentials of an HTTP upgrade request.
// Browsers cannot set headers on a WebSocket handshake, so the token is
// looked up in the query string first, then the Authorization header, then
// the session cookie.
func HandshakeFromRequest(r *http.Request) domain.Handshake {
	return domain.Handshake{Token: tokenFromRequest(r), RemoteAddr: r.RemoteAddr}
}

func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get(tokenQueryParam); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
