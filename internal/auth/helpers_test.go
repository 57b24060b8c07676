package auth

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"expense-tracker/internal/db"
	"expense-tracker/internal/telegram"
)

const (
	testBotToken    = "424242:test-bot-token"
	testAccessToken = "let-me-in"
	testTOTPSecret  = "JBSWY3DPEHPK3PXP"
	testJWTSecret   = "test-jwt-secret"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.Open(context.Background(), db.Options{
		Driver: db.DriverSQLite,
		DSN:    "file:" + filepath.Join(t.TempDir(), "auth.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, db.RunMigrations(database, db.DriverSQLite))
	return database
}

func signedInitData(userID int64, authDate time.Time) string {
	values := url.Values{}
	values.Set("query_id", "AAE-test")
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("user", fmt.Sprintf(`{"id":%d,"first_name":"Admin","username":"owner"}`, userID))
	values.Set("hash", telegram.Sign(values, telegram.SecretKey(testBotToken)))
	return values.Encode()
}
