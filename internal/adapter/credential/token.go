package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"project-companion/internal/domain"
)

// TokenInfo is what can be read from a token without verifying it.
type TokenInfo struct {
	Subject   string
	IssuedAt  *time.Time
	ExpiresAt *time.Time
}

// Expired reports whether the token has an expiry before now.
func (i TokenInfo) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// Inspect decodes the claims of a JWT without checking its signature; the
// backend remains the authority. Opaque tokens return an error.
func Inspect(token string) (TokenInfo, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}, fmt.Errorf("inspect token: %w", err)
	}
	info := TokenInfo{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		t := claims.IssuedAt.Time
		info.IssuedAt = &t
	}
	if claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time
		info.ExpiresAt = &t
	}
	return info, nil
}

// Tokens is a domain.TokenSource reading from a CredentialStore. Tokens
// that are JWTs with a past expiry are reported as domain.ErrTokenExpired
// before any request is made.
type Tokens struct {
	Store domain.CredentialStore
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Token returns the stored bearer token, or "" when not logged in.
func (t Tokens) Token(context.Context) (string, error) {
	creds, err := t.Store.Load()
	if errors.Is(err, domain.ErrNotAuthenticated) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info, err := Inspect(creds.Token); err == nil {
		now := time.Now
		if t.Now != nil {
			now = t.Now
		}
		if info.Expired(now()) {
			return "", fmt.Errorf("%w: expired %s", domain.ErrTokenExpired, info.ExpiresAt.Format(time.RFC3339))
		}
	}
	return creds.Token, nil
}

// RequireToken is like Token but reports domain.ErrNotAuthenticated instead
// of an empty token.
func (t Tokens) RequireToken(ctx context.Context) (string, error) {
	tok, err := t.Token(ctx)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", domain.ErrNotAuthenticated
	}
	return tok, nil
}

var _ domain.TokenSource = Tokens{}
