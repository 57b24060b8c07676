// Package telegram verifies Mini App launch data signed by the Telegram client.
package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxAge is the oldest auth_date accepted. An age of exactly MaxAge is still valid.
	MaxAge = 24 * time.Hour

	maxFutureSkew = time.Minute
	webAppDataKey = "WebAppData"
)

// ErrInvalidInitData is the only failure Verify reports.
var ErrInvalidInitData = errors.New("invalid telegram init data")

// Identity is the Telegram user embedded in launch data.
type Identity struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Key is the identity id in the form stored by the authorization table.
func (i Identity) Key() string {
	return strconv.FormatInt(i.ID, 10)
}

func (i Identity) DisplayName() string {
	if i.FirstName != "" {
		return i.FirstName
	}
	return i.Username
}

// Verify checks the HMAC-SHA256 signature and freshness of raw launch data
// and returns the embedded user.
func Verify(initData, botToken string, now time.Time) (Identity, error) {
	if initData == "" || botToken == "" {
		return Identity{}, ErrInvalidInitData
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return Identity{}, ErrInvalidInitData
	}

	hash := values.Get("hash")
	if hash == "" {
		return Identity{}, ErrInvalidInitData
	}
	values.Del("hash")

	secret := SecretKey(botToken)
	matched := hmac.Equal([]byte(Sign(values, secret)), []byte(hash))
	if !matched && values.Has("signature") {
		// Older clients computed the hash without the Ed25519 signature field.
		withoutSignature := cloneValues(values)
		withoutSignature.Del("signature")
		matched = hmac.Equal([]byte(Sign(withoutSignature, secret)), []byte(hash))
	}
	if !matched {
		return Identity{}, ErrInvalidInitData
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return Identity{}, ErrInvalidInitData
	}
	age := now.Sub(time.Unix(authDate, 0))
	if age > MaxAge || age < -maxFutureSkew {
		return Identity{}, ErrInvalidInitData
	}

	rawUser := values.Get("user")
	if rawUser == "" {
		return Identity{}, ErrInvalidInitData
	}
	var identity Identity
	if err := json.Unmarshal([]byte(rawUser), &identity); err != nil || identity.ID == 0 {
		return Identity{}, ErrInvalidInitData
	}

	return identity, nil
}

// SecretKey derives the signing key from a bot token.
func SecretKey(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte(webAppDataKey))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

// Sign returns the hex HMAC of the data-check-string built from values.
// The caller removes fields that must not be signed.
func Sign(values url.Values, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(DataCheckString(values)))
	return hex.EncodeToString(mac.Sum(nil))
}

// DataCheckString renders key=value pairs sorted by key and joined by newlines.
func DataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+"="+values.Get(key))
	}
	return strings.Join(lines, "\n")
}

func cloneValues(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for key, list := range values {
		out[key] = append([]string(nil), list...)
	}
	return out
}
