package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"expense-tracker/internal/observability"
	"expense-tracker/internal/session"
	"expense-tracker/internal/telegram"
	"expense-tracker/internal/totp"
)

var (
	ErrNoCredentials    = errors.New("initData or accessToken is required")
	ErrInvalidSignature = errors.New("invalid telegram launch data")
	ErrBlocked          = errors.New("telegram access required")
)

type ErrLoginLocked struct {
	Until      time.Time
	RetryAfter time.Duration
}

func (e ErrLoginLocked) Error() string {
	return fmt.Sprintf("login locked, retry in %d minutes", RetryAfterMinutes(e.RetryAfter))
}

// Service drives the login flow: Telegram launch data, the bot access token,
// then the TOTP code that finally yields a session.
type Service struct {
	gate         *AccessGate
	limiter      *LoginRateLimiter
	validator    *totp.Validator
	sessions     *session.Service
	botToken     string
	telegramOnly bool
	logger       *observability.Logger
	now          func() time.Time
}

func NewService(gate *AccessGate, limiter *LoginRateLimiter, validator *totp.Validator, sessions *session.Service, botToken string) *Service {
	return &Service{
		gate:      gate,
		limiter:   limiter,
		validator: validator,
		sessions:  sessions,
		botToken:  strings.TrimSpace(botToken),
		logger:    observability.NewNopLogger(),
		now:       time.Now,
	}
}

// WithTelegramOnly requires valid launch data from an authorized identity before any code is checked.
func (s *Service) WithTelegramOnly(enabled bool) *Service {
	s.telegramOnly = enabled
	return s
}

func (s *Service) WithLogger(logger *observability.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Sessions() *session.Service {
	return s.sessions
}

// ResolveStage decides where a freshly opened client starts. Missing or
// unverifiable launch data falls through to the code prompt unless the
// service runs Telegram-only, in which case the client is blocked.
func (s *Service) ResolveStage(ctx context.Context, initData string) (Stage, *telegram.Identity, error) {
	fallback := StageNeedTOTP
	if s.telegramOnly {
		fallback = StageBlocked
	}

	initData = strings.TrimSpace(initData)
	if initData == "" {
		return fallback, nil, nil
	}

	identity, err := telegram.Verify(initData, s.botToken, s.now())
	if err != nil {
		return fallback, nil, nil
	}

	authorized, err := s.gate.IsAuthorized(ctx, identity.Key())
	if err != nil {
		return StageChecking, nil, err
	}
	if !authorized {
		return StageNeedToken, &identity, nil
	}
	return StageNeedTOTP, &identity, nil
}

// TelegramStatus verifies launch data, optionally redeems an access token for
// the identity, and reports the next stage.
func (s *Service) TelegramStatus(ctx context.Context, req TelegramRequest) (TelegramResult, error) {
	initData := strings.TrimSpace(req.InitData)
	// The access token is compared byte for byte; trimming only decides presence.
	accessToken := req.AccessToken
	hasAccessToken := strings.TrimSpace(accessToken) != ""

	if initData == "" && !hasAccessToken {
		observability.TelegramChecks.WithLabelValues("no_credentials").Inc()
		return TelegramResult{}, ErrNoCredentials
	}
	if initData == "" {
		observability.TelegramChecks.WithLabelValues("invalid").Inc()
		return TelegramResult{}, ErrInvalidSignature
	}

	identity, err := telegram.Verify(initData, s.botToken, s.now())
	if err != nil {
		observability.TelegramChecks.WithLabelValues("invalid").Inc()
		return TelegramResult{}, ErrInvalidSignature
	}

	authorized, err := s.gate.IsAuthorized(ctx, identity.Key())
	if err != nil {
		return TelegramResult{}, err
	}

	if !authorized && hasAccessToken {
		if err := s.gate.Authorize(ctx, identity.Key(), accessToken); err != nil {
			if errors.Is(err, ErrWrongAccessToken) {
				observability.TelegramChecks.WithLabelValues("wrong_token").Inc()
				s.logger.Warn("access_token_rejected", map[string]any{"identity": identity.Key()})
			}
			return TelegramResult{}, err
		}
		authorized = true
		s.logger.Info("telegram_identity_authorized", map[string]any{"identity": identity.Key()})
	}

	result := TelegramResult{Stage: StageNeedToken, User: identity}
	if authorized {
		result.Stage = StageNeedTOTP
	}
	observability.TelegramChecks.WithLabelValues(string(result.Stage)).Inc()
	return result, nil
}

// Login checks a TOTP code for the calling address and issues a session on success.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Tokens, error) {
	if s.telegramOnly {
		stage, _, err := s.ResolveStage(ctx, req.InitData)
		if err != nil {
			return Tokens{}, err
		}
		if stage != StageNeedTOTP {
			observability.LoginAttempts.WithLabelValues("blocked").Inc()
			return Tokens{}, ErrBlocked
		}
	}

	status, err := s.limiter.Check(ctx, req.Address)
	if err != nil {
		return Tokens{}, fmt.Errorf("check lockout: %w", err)
	}
	if status.Locked {
		observability.LoginAttempts.WithLabelValues("locked").Inc()
		return Tokens{}, ErrLoginLocked{Until: status.LockedUntil, RetryAfter: status.RetryAfter}
	}

	if err := totp.ValidateFormat(req.Code); err != nil {
		observability.LoginAttempts.WithLabelValues("malformed").Inc()
		return Tokens{}, err
	}
	if err := s.validator.SecretError(); err != nil {
		return Tokens{}, err
	}

	if err := s.validator.Check(req.Code); err != nil {
		observability.LoginAttempts.WithLabelValues("failure").Inc()
		if _, recErr := s.limiter.RecordOutcome(ctx, req.Address, false); recErr != nil {
			return Tokens{}, fmt.Errorf("record failed login: %w", recErr)
		}
		return Tokens{}, err
	}

	if _, err := s.limiter.RecordOutcome(ctx, req.Address, true); err != nil {
		return Tokens{}, fmt.Errorf("clear login attempts: %w", err)
	}

	token, err := s.sessions.Issue()
	if err != nil {
		return Tokens{}, err
	}
	observability.LoginAttempts.WithLabelValues("success").Inc()
	s.logger.Info("admin_session_issued", map[string]any{"address": req.Address})

	tokens := s.tokens(token)
	tokens.Status = StageAuthorized
	return tokens, nil
}

// Authenticate verifies a bearer token and mints its replacement.
func (s *Service) Authenticate(raw string) (*session.Claims, Tokens, error) {
	claims, err := s.sessions.Verify(raw)
	if err != nil {
		return nil, Tokens{}, err
	}
	next, err := s.sessions.Rotate(claims)
	if err != nil {
		return nil, Tokens{}, err
	}
	return claims, s.tokens(next), nil
}

func (s *Service) tokens(token session.Token) Tokens {
	return Tokens{
		Token:     token.Value,
		TokenType: "Bearer",
		ExpiresIn: int64(s.sessions.TTL().Seconds()),
	}
}
