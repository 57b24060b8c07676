package auth

import (
	"time"

	"expense-tracker/internal/telegram"
)

// Stage is the client-facing position in the login flow.
type Stage string

const (
	StageChecking   Stage = "checking"
	StageBlocked    Stage = "blocked"
	StageNeedToken  Stage = "need_token"
	StageNeedTOTP   Stage = "need_totp"
	StageAuthorized Stage = "authorized"
)

// AuthorizationRecord marks a Telegram identity that has presented the shared access token.
type AuthorizationRecord struct {
	IdentityID   string
	Authorized   bool
	AuthorizedAt *time.Time
}

// attemptIdleTTL is how long an unlocked failure counter survives without a
// new failure.
const attemptIdleTTL = 24 * time.Hour

// LoginAttempt tracks consecutive TOTP failures for one client address.
type LoginAttempt struct {
	Address       string
	FailureCount  int
	Locked        bool
	LockedUntil   time.Time
	LastFailureAt time.Time
}

func (a LoginAttempt) lockedAt(now time.Time) bool {
	return a.Locked && now.Before(a.LockedUntil)
}

// expiredAt reports whether the record no longer affects the address: either
// its lock has ended or it is an unlocked counter that went idle.
func (a LoginAttempt) expiredAt(now time.Time) bool {
	if a.Locked {
		return !now.Before(a.LockedUntil)
	}
	return now.Sub(a.LastFailureAt) >= attemptIdleTTL
}

type TelegramRequest struct {
	InitData    string
	AccessToken string
}

type TelegramResult struct {
	Stage Stage
	User  telegram.Identity
}

type LoginRequest struct {
	Address  string
	Code     string
	InitData string
}

// Tokens is returned by a successful login (Status is authorized) and
// produced again on every rotation.
type Tokens struct {
	Status    Stage  `json:"status,omitempty"`
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}
