package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"expense-tracker/internal/totp"
)

const (
	maxJSONBodyBytes = 1 << 20

	InitDataHeader = "X-Telegram-Init-Data"
	NewTokenHeader = "X-New-Token"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type telegramRequest struct {
	InitData    string `json:"initData"`
	AccessToken string `json:"accessToken"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type telegramResponse struct {
	Status string       `json:"status"`
	User   telegramUser `json:"user"`
}

type loginRequest struct {
	Code string `json:"code"`
}

type sessionResponse struct {
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) Telegram(w http.ResponseWriter, r *http.Request) {
	var body telegramRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.TelegramStatus(r.Context(), TelegramRequest{
		InitData:    body.InitData,
		AccessToken: body.AccessToken,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNoCredentials):
			writeError(w, http.StatusBadRequest, "initData or accessToken is required")
		case errors.Is(err, ErrInvalidSignature):
			writeError(w, http.StatusForbidden, "invalid telegram signature")
		case errors.Is(err, ErrWrongAccessToken):
			writeError(w, http.StatusUnauthorized, "invalid access token")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to check telegram access")
		}
		return
	}

	writeJSON(w, http.StatusOK, telegramResponse{
		Status: string(result.Stage),
		User: telegramUser{
			ID:        result.User.ID,
			FirstName: result.User.FirstName,
			LastName:  result.User.LastName,
			Username:  result.User.Username,
		},
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	tokens, err := h.service.Login(r.Context(), LoginRequest{
		Address:  ClientAddress(r),
		Code:     body.Code,
		InitData: r.Header.Get(InitDataHeader),
	})
	if err != nil {
		var lockedErr ErrLoginLocked
		switch {
		case errors.As(err, &lockedErr):
			minutes := RetryAfterMinutes(lockedErr.RetryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(minutes*60))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":               fmt.Sprintf("too many login attempts, retry in %d minutes", minutes),
				"retry_after_minutes": minutes,
			})
		case errors.Is(err, ErrBlocked):
			writeError(w, http.StatusForbidden, "telegram access required")
		case errors.Is(err, totp.ErrMalformedCode):
			writeError(w, http.StatusBadRequest, "code must be 6 digits")
		case errors.Is(err, totp.ErrWrongCode):
			writeError(w, http.StatusUnauthorized, "invalid or expired code")
		case errors.Is(err, totp.ErrMissingSecret), errors.Is(err, totp.ErrInvalidSecret):
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "totp secret is not configured")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to login")
		}
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// Session reports the caller's role. It must run behind Middleware.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	resp := sessionResponse{Role: claims.Role}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
