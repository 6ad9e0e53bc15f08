package maintenance

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"svv-auth/internal/auth"
	"svv-auth/internal/observability"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newFixture(t *testing.T, secret string) (*http.ServeMux, *auth.AttemptTracker, *clock) {
	t.Helper()

	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker := auth.NewAttemptTracker(2, time.Minute, 100).WithClock(c.Now)
	handler := NewLockoutHandler(tracker, observability.NewLoggerFrom(zaptest.NewLogger(t)), secret)

	mux := http.NewServeMux()
	handler.Routes(mux)
	return mux, tracker, c
}

func serve(mux *http.ServeMux, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRoutesHiddenWithoutSecret(t *testing.T) {
	mux, _, _ := newFixture(t, "")

	if rec := serve(mux, http.MethodPost, "/internal/maintenance/cleanup", "anything"); rec.Code != http.StatusNotFound {
		t.Fatalf("cleanup status = %d", rec.Code)
	}
	if rec := serve(mux, http.MethodDelete, "/internal/maintenance/lockouts/ip:1.2.3.4", "anything"); rec.Code != http.StatusNotFound {
		t.Fatalf("unlock status = %d", rec.Code)
	}
}

func TestRoutesRequireBearerSecret(t *testing.T) {
	mux, _, _ := newFixture(t, "s3cret")

	if rec := serve(mux, http.MethodPost, "/internal/maintenance/cleanup", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}
	if rec := serve(mux, http.MethodPost, "/internal/maintenance/cleanup", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
}

func TestCleanupSweepsExpiredLocks(t *testing.T) {
	mux, tracker, c := newFixture(t, "s3cret")

	tracker.RecordFailure("ip:10.0.0.1")
	tracker.RecordFailure("ip:10.0.0.1")
	tracker.RecordFailure("ip:10.0.0.2")
	c.now = c.now.Add(time.Minute)

	rec := serve(mux, http.MethodPost, "/internal/maintenance/cleanup", "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var body struct {
		Removed int `json:"removed"`
		Tracked int `json:"tracked"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Removed != 1 || body.Tracked != 1 {
		t.Fatalf("removed=%d tracked=%d, want 1 and 1", body.Removed, body.Tracked)
	}
	if _, ok := tracker.Lookup("ip:10.0.0.2"); !ok {
		t.Fatalf("unlocked record should survive the sweep")
	}
}

func TestUnlockClearsIdentifier(t *testing.T) {
	mux, tracker, _ := newFixture(t, "s3cret")

	tracker.RecordFailure("user:alice")
	tracker.RecordFailure("user:alice")
	if _, locked := tracker.CheckLocked("user:alice"); !locked {
		t.Fatalf("expected alice to be locked")
	}

	rec := serve(mux, http.MethodDelete, "/internal/maintenance/lockouts/user:alice", "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if _, locked := tracker.CheckLocked("user:alice"); locked {
		t.Fatalf("alice should be unlocked")
	}

	var body struct {
		Cleared bool `json:"cleared"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Cleared {
		t.Fatalf("cleared = false, want true")
	}

	rec = serve(mux, http.MethodDelete, "/internal/maintenance/lockouts/user:alice", "s3cret")
	body.Cleared = true
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Cleared {
		t.Fatalf("second unlock reported cleared = true")
	}
}
