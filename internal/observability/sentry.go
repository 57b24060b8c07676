package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

var sensitiveHeaders = map[string]bool{
	"Authorization":        true,
	"Cookie":               true,
	"X-New-Token":          true,
	"X-Telegram-Init-Data": true,
}

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// scrubEvent drops credentials and request bodies (init data, access tokens, codes).
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil || event.Request == nil {
		return event
	}
	for name := range event.Request.Headers {
		if sensitiveHeaders[http.CanonicalHeaderKey(name)] {
			event.Request.Headers[name] = "[redacted]"
		}
	}
	event.Request.Data = ""
	event.Request.Cookies = ""
	return event
}
