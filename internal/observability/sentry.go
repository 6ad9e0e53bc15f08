package observability

import (
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// Headers that carry bearer tokens or the session cookie.
var scrubbedHeaders = []string{"Authorization", "Cookie", "Set-Cookie"}

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		SendDefaultPII:   false,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return scrubEvent(event)
		},
	})
}

func scrubEvent(event *sentry.Event) *sentry.Event {
	if event == nil || event.Request == nil {
		return event
	}

	for name := range event.Request.Headers {
		for _, secret := range scrubbedHeaders {
			if strings.EqualFold(name, secret) {
				event.Request.Headers[name] = "[redacted]"
			}
		}
	}
	event.Request.Cookies = ""
	event.Request.Data = ""
	return event
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
