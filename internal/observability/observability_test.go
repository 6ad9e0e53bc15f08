package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name      string
		forwarded string
		remote    string
		want      string
	}{
		{name: "forwarded first hop", forwarded: "203.0.113.7, 10.0.0.1", remote: "10.0.0.1:5555", want: "203.0.113.7"},
		{name: "remote without port", remote: "198.51.100.3:41000", want: "198.51.100.3"},
		{name: "remote raw", remote: "pipe", want: "pipe"},
		{name: "unknown", want: "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			if tc.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := ClientIP(r); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	logger := NewLoggerFrom(zaptest.NewLogger(t))
	handler := RecoverMiddleware(logger, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestMetricsRecordLoginAndGauge(t *testing.T) {
	tracked := 3
	m := NewMetrics(func() int { return tracked })

	m.RecordLogin("success")
	m.RecordLogin("invalid_credentials")
	m.RecordLogin("invalid_credentials")

	if got := testutil.ToFloat64(m.LoginAttempts.WithLabelValues("invalid_credentials")); got != 2 {
		t.Fatalf("invalid_credentials counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TrackedLockouts); got != 3 {
		t.Fatalf("tracker gauge = %v, want 3", got)
	}
}

func TestMetricsMiddlewareLabelsByPattern(t *testing.T) {
	m := NewMetrics(nil)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	handler := MetricsMiddleware(m, mux)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := testutil.CollectAndCount(m.RequestDuration); got != 1 {
		t.Fatalf("expected one observed series, got %d", got)
	}
}

func TestScrubEventRedactsCredentials(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{
		Headers: map[string]string{"authorization": "Bearer abc", "Cookie": "access_token=abc", "Accept": "application/json"},
		Cookies: "access_token=abc",
		Data:    "username=alice&password=secret",
	}}

	scrubbed := scrubEvent(event)
	if scrubbed.Request.Headers["authorization"] != "[redacted]" || scrubbed.Request.Headers["Cookie"] != "[redacted]" {
		t.Fatalf("credential headers not redacted: %v", scrubbed.Request.Headers)
	}
	if scrubbed.Request.Headers["Accept"] != "application/json" {
		t.Fatalf("unrelated header changed")
	}
	if scrubbed.Request.Cookies != "" || scrubbed.Request.Data != "" {
		t.Fatalf("cookies or body kept: %+v", scrubbed.Request)
	}
	if scrubEvent(&sentry.Event{}) == nil {
		t.Fatalf("event without request should pass through")
	}
}
