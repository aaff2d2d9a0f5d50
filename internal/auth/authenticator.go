// Package auth verifies the access/refresh credential pair presented on a
// WebSocket upgrade request. The transport carries no per-message
// credentials, so identity is fixed exactly once at handshake time, using
// the same token pair the REST surface issues — issuance and revocation
// stay in one place, outside this package.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emberly/match-app/internal/store"
)

// ErrUnauthenticated is returned when neither credential verifies. The
// caller must refuse the connection before the transport upgrade.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// UserSource loads the stored user record for the refresh-token revocation
// check. Implemented by *store.Users.
type UserSource interface {
	Get(ctx context.Context, id string) (*store.User, error)
}

// RefreshClaims is the payload embedded in refresh tokens. TokenVersion is
// compared against the user's stored value: bumping the stored counter
// invalidates every previously issued refresh token.
type RefreshClaims struct {
	UserID       string `json:"userId"`
	TokenVersion int    `json:"tokenVersion"`
	jwt.RegisteredClaims
}

// Authenticator validates handshake credentials. Access and refresh tokens
// are signed with independent HMAC secrets.
type Authenticator struct {
	accessSecret  []byte
	refreshSecret []byte
	users         UserSource
}

// NewAuthenticator creates an Authenticator with the given signing secrets
// and user source.
func NewAuthenticator(accessSecret, refreshSecret []byte, users UserSource) *Authenticator {
	return &Authenticator{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		users:         users,
	}
}

// Authenticate verifies the credential pair and returns the authenticated
// user id. The short-lived access token is tried first; if it fails for
// any reason (expired, malformed, bad signature), the long-lived refresh
// token is verified instead, including the tokenVersion revocation check
// against the stored user. If neither verifies, ErrUnauthenticated is
// returned and no identity is established.
func (a *Authenticator) Authenticate(ctx context.Context, accessToken, refreshToken string) (string, error) {
	if sub, err := a.verifyAccess(accessToken); err == nil {
		return sub, nil
	}

	claims, err := a.verifyRefresh(refreshToken)
	if err != nil {
		return "", ErrUnauthenticated
	}

	user, err := a.users.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUnauthenticated
		}
		return "", fmt.Errorf("auth: load user: %w", err)
	}
	if user.TokenVersion != claims.TokenVersion {
		// A stored counter bump revoked this token.
		return "", ErrUnauthenticated
	}
	return claims.UserID, nil
}

// verifyAccess checks the access token's signature and expiry and returns
// its subject.
func (a *Authenticator) verifyAccess(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, a.keyFunc(a.accessSecret))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", errors.New("auth: invalid access claims")
	}
	return claims.Subject, nil
}

// verifyRefresh checks the refresh token's signature and expiry and
// returns its embedded claims.
func (a *Authenticator) verifyRefresh(tokenString string) (*RefreshClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, a.keyFunc(a.refreshSecret))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errors.New("auth: invalid refresh claims")
	}
	return claims, nil
}

// keyFunc pins the signing method to HMAC before handing back the secret,
// so a token cannot downgrade the algorithm.
func (a *Authenticator) keyFunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}
}
