package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"
)

var ErrWrongAccessToken = errors.New("wrong access token")

type AuthorizationStore interface {
	GetAuthorization(ctx context.Context, identityID string) (AuthorizationRecord, error)
	UpsertAuthorization(ctx context.Context, identityID string, at time.Time) error
}

// AccessGate admits a Telegram identity once it has presented the shared bot access token.
type AccessGate struct {
	store    AuthorizationStore
	expected string
	now      func() time.Time
}

func NewAccessGate(store AuthorizationStore, expectedToken string) *AccessGate {
	return &AccessGate{
		store:    store,
		expected: strings.TrimSpace(expectedToken),
		now:      time.Now,
	}
}

func (g *AccessGate) WithClock(now func() time.Time) *AccessGate {
	g.now = now
	return g
}

func (g *AccessGate) IsAuthorized(ctx context.Context, identityID string) (bool, error) {
	record, err := g.store.GetAuthorization(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrAuthorizationNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.Authorized, nil
}

// Authorize records the identity when supplied matches the configured token exactly.
// With no token configured nothing ever matches.
func (g *AccessGate) Authorize(ctx context.Context, identityID, supplied string) error {
	if g.expected == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(g.expected)) != 1 {
		return ErrWrongAccessToken
	}
	return g.store.UpsertAuthorization(ctx, identityID, g.now().UTC())
}
