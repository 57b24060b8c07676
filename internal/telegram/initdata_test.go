package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

var testNow = time.Unix(1_760_000_000, 0)

// referenceHash computes the launch data hash without using any helper from this package.
func referenceHash(t *testing.T, fields map[string]string, botToken string) string {
	t.Helper()

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k + "=" + fields[k])
	}

	keyMac := hmac.New(sha256.New, []byte("WebAppData"))
	keyMac.Write([]byte(botToken))
	mac := hmac.New(sha256.New, keyMac.Sum(nil))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func encode(fields map[string]string, hash string) string {
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	if hash != "" {
		values.Set("hash", hash)
	}
	return values.Encode()
}

func baseFields(authDate time.Time) map[string]string {
	return map[string]string{
		"query_id":  "AAHdF6IQAAAAAN0XohDhrOrc",
		"user":      `{"id":279058397,"first_name":"Vlad","last_name":"L","username":"vdkfrost","language_code":"en"}`,
		"auth_date": strconv.FormatInt(authDate.Unix(), 10),
	}
}

func TestVerify_ValidPayload(t *testing.T) {
	fields := baseFields(testNow.Add(-time.Minute))
	initData := encode(fields, referenceHash(t, fields, testBotToken))

	identity, err := Verify(initData, testBotToken, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(279058397), identity.ID)
	assert.Equal(t, "Vlad", identity.FirstName)
	assert.Equal(t, "vdkfrost", identity.Username)
	assert.Equal(t, "279058397", identity.Key())
	assert.Equal(t, "Vlad", identity.DisplayName())
}

func TestVerify_SignMatchesReference(t *testing.T) {
	fields := baseFields(testNow)
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}

	assert.Equal(t, referenceHash(t, fields, testBotToken), Sign(values, SecretKey(testBotToken)))
}

func TestVerify_SingleCharacterMutation(t *testing.T) {
	fields := baseFields(testNow.Add(-time.Hour))
	hash := referenceHash(t, fields, testBotToken)

	for key, value := range fields {
		t.Run(key, func(t *testing.T) {
			mutated := make(map[string]string, len(fields))
			for k, v := range fields {
				mutated[k] = v
			}
			last := value[len(value)-1]
			replacement := byte('x')
			if last == 'x' {
				replacement = 'y'
			}
			mutated[key] = value[:len(value)-1] + string(replacement)

			_, err := Verify(encode(mutated, hash), testBotToken, testNow)
			assert.ErrorIs(t, err, ErrInvalidInitData)
		})
	}

	t.Run("hash", func(t *testing.T) {
		tampered := hash[:len(hash)-1] + "0"
		if tampered == hash {
			tampered = hash[:len(hash)-1] + "1"
		}
		_, err := Verify(encode(fields, tampered), testBotToken, testNow)
		assert.ErrorIs(t, err, ErrInvalidInitData)
	})
}

func TestVerify_AuthDateBoundary(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		wantErr bool
	}{
		{name: "fresh", age: 0},
		{name: "exactly 24h old", age: 86400 * time.Second},
		{name: "one second past 24h", age: 86401 * time.Second, wantErr: true},
		{name: "far in the future", age: -time.Hour, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := baseFields(testNow.Add(-tt.age))
			_, err := Verify(encode(fields, referenceHash(t, fields, testBotToken)), testBotToken, testNow)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInitData)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerify_SignatureField(t *testing.T) {
	fields := baseFields(testNow)
	fields["signature"] = "6fbdaab833d39f54518bd5c3eb3f511d035e68cb"

	t.Run("signature included in check string", func(t *testing.T) {
		_, err := Verify(encode(fields, referenceHash(t, fields, testBotToken)), testBotToken, testNow)
		assert.NoError(t, err)
	})

	t.Run("signature excluded from check string", func(t *testing.T) {
		unsigned := baseFields(testNow)
		_, err := Verify(encode(fields, referenceHash(t, unsigned, testBotToken)), testBotToken, testNow)
		assert.NoError(t, err)
	})
}

func TestVerify_Rejects(t *testing.T) {
	valid := baseFields(testNow)

	noUser := baseFields(testNow)
	delete(noUser, "user")

	badUser := baseFields(testNow)
	badUser["user"] = `{"id":`

	zeroUser := baseFields(testNow)
	zeroUser["user"] = `{"first_name":"Nobody"}`

	noDate := baseFields(testNow)
	delete(noDate, "auth_date")

	tests := []struct {
		name     string
		initData string
		botToken string
	}{
		{name: "empty payload", initData: "", botToken: testBotToken},
		{name: "missing hash", initData: encode(valid, ""), botToken: testBotToken},
		{name: "wrong bot token", initData: encode(valid, referenceHash(t, valid, "other:token")), botToken: testBotToken},
		{name: "empty bot token", initData: encode(valid, referenceHash(t, valid, "")), botToken: ""},
		{name: "missing user", initData: encode(noUser, referenceHash(t, noUser, testBotToken)), botToken: testBotToken},
		{name: "malformed user json", initData: encode(badUser, referenceHash(t, badUser, testBotToken)), botToken: testBotToken},
		{name: "user without id", initData: encode(zeroUser, referenceHash(t, zeroUser, testBotToken)), botToken: testBotToken},
		{name: "missing auth_date", initData: encode(noDate, referenceHash(t, noDate, testBotToken)), botToken: testBotToken},
		{name: "malformed query", initData: "hash=%zz", botToken: testBotToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(tt.initData, tt.botToken, testNow)
			assert.ErrorIs(t, err, ErrInvalidInitData)
		})
	}
}

func TestDataCheckString(t *testing.T) {
	values := url.Values{}
	values.Set("user", "u")
	values.Set("auth_date", "1")
	values.Set("query_id", "q")

	assert.Equal(t, "auth_date=1\nquery_id=q\nuser=u", DataCheckString(values))
}

func TestIdentity_DisplayNameFallsBackToUsername(t *testing.T) {
	assert.Equal(t, "nick", Identity{ID: 1, Username: "nick"}.DisplayName())
}
