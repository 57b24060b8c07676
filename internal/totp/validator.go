// Package totp checks six digit RFC 6238 codes against the administrator secret.
package totp

import (
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const CodeLength = 6

var (
	ErrMissingSecret = errors.New("totp secret is not configured")
	ErrInvalidSecret = errors.New("totp secret is not valid base32")
	ErrMalformedCode = errors.New("totp code must be 6 digits")
	ErrWrongCode     = errors.New("totp code is invalid or expired")
)

var validateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

type Validator struct {
	secret    string
	secretErr error
	now       func() time.Time
}

// NewValidator decodes the secret once so a bad value surfaces as a
// configuration error instead of a wrong code.
func NewValidator(secret string) *Validator {
	secret = strings.TrimSpace(secret)
	return &Validator{secret: secret, secretErr: checkSecret(secret), now: time.Now}
}

// WithClock replaces the time source, for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

func (v *Validator) Configured() bool {
	return v.secretErr == nil
}

// SecretError is nil for a usable secret, otherwise ErrMissingSecret or ErrInvalidSecret.
func (v *Validator) SecretError() error {
	return v.secretErr
}

// Check returns nil when code is valid for the current time step or one step either side.
func (v *Validator) Check(code string) error {
	if err := ValidateFormat(code); err != nil {
		return err
	}
	if v.secretErr != nil {
		return v.secretErr
	}

	ok, err := totp.ValidateCustom(code, v.secret, v.now().UTC(), validateOpts)
	if errors.Is(err, otp.ErrValidateSecretInvalidBase32) {
		return ErrInvalidSecret
	}
	if err != nil || !ok {
		return ErrWrongCode
	}
	return nil
}

// checkSecret mirrors the normalization totp.ValidateCustom applies before decoding.
func checkSecret(secret string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if n := len(secret) % 8; n != 0 {
		secret += strings.Repeat("=", 8-n)
	}
	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(secret))
	if err != nil || len(decoded) == 0 {
		return ErrInvalidSecret
	}
	return nil
}

// ValidateFormat rejects anything other than exactly six ASCII digits.
func ValidateFormat(code string) error {
	if len(code) != CodeLength {
		return ErrMalformedCode
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrMalformedCode
		}
	}
	return nil
}
