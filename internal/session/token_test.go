package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, clock *fakeClock) *Service {
	t.Helper()
	s, err := NewService("test-signing-secret", DefaultTTL)
	require.NoError(t, err)
	return s.WithClock(clock.Now)
}

func TestNewService_RequiresSecret(t *testing.T) {
	for _, secret := range []string{"", "   "} {
		s, err := NewService(secret, time.Minute)
		assert.Nil(t, s)
		assert.ErrorIs(t, err, ErrMissingSecret)
	}
}

func TestNewService_DefaultTTL(t *testing.T) {
	s, err := NewService("secret", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, s.TTL())
}

func TestService_IssueAndVerify(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := newTestService(t, clock)

	token, err := s.Issue()
	require.NoError(t, err)
	assert.NotEmpty(t, token.Value)
	assert.WithinDuration(t, clock.now.Add(15*time.Minute), token.ExpiresAt, time.Second)

	claims, err := s.Verify(token.Value)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestService_VerifyRejects(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := newTestService(t, clock)

	token, err := s.Issue()
	require.NoError(t, err)

	other, err := NewService("another-secret", DefaultTTL)
	require.NoError(t, err)
	foreign, err := other.Issue()
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	userRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
	}).SignedString([]byte("test-signing-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: RoleAdmin}).
		SignedString([]byte("test-signing-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "tampered signature", token: token.Value[:len(token.Value)-2] + "xx"},
		{name: "signed with another secret", token: foreign.Value},
		{name: "alg none", token: noneToken},
		{name: "non admin role", token: userRole},
		{name: "no expiry", token: noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := s.Verify(tt.token)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, ErrInvalidSession)
		})
	}
}

func TestService_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := newTestService(t, clock)

	token, err := s.Issue()
	require.NoError(t, err)

	clock.now = clock.now.Add(14 * time.Minute)
	_, err = s.Verify(token.Value)
	assert.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Minute)
	_, err = s.Verify(token.Value)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestService_Rotate(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := newTestService(t, clock)

	original, err := s.Issue()
	require.NoError(t, err)
	claims, err := s.Verify(original.Value)
	require.NoError(t, err)

	first, err := s.Rotate(claims)
	require.NoError(t, err)
	second, err := s.Rotate(claims)
	require.NoError(t, err)

	assert.NotEqual(t, original.Value, first.Value)
	assert.NotEqual(t, first.Value, second.Value)

	// Rotation does not invalidate the token it was derived from.
	_, err = s.Verify(original.Value)
	assert.NoError(t, err)

	// A rotated token extends the window past the original expiry.
	clock.now = clock.now.Add(10 * time.Minute)
	later, err := s.Rotate(claims)
	require.NoError(t, err)
	clock.now = clock.now.Add(10 * time.Minute)
	_, err = s.Verify(original.Value)
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = s.Verify(later.Value)
	assert.NoError(t, err)
}

func TestService_RotateRequiresClaims(t *testing.T) {
	s := newTestService(t, &fakeClock{now: time.Now()})

	_, err := s.Rotate(nil)
	assert.ErrorIs(t, err, ErrInvalidSession)
}
