package maintenance

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"svv-auth/internal/auth"
	"svv-auth/internal/observability"
)

// LockoutHandler exposes tracker housekeeping to a scheduler or an operator.
// Every route answers 404 while CRON_SECRET is unset.
type LockoutHandler struct {
	tracker    *auth.AttemptTracker
	logger     *observability.Logger
	cronSecret string
}

func NewLockoutHandler(tracker *auth.AttemptTracker, logger *observability.Logger, cronSecret string) *LockoutHandler {
	return &LockoutHandler{
		tracker:    tracker,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
	}
}

func (h *LockoutHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /internal/maintenance/cleanup", h.Cleanup)
	mux.HandleFunc("POST /internal/maintenance/cleanup", h.Cleanup)
	mux.HandleFunc("DELETE /internal/maintenance/lockouts/{identifier}", h.Unlock)
}

func (h *LockoutHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	removed := h.tracker.Sweep()
	tracked := h.tracker.Len()

	h.logger.Info("lockout_cleanup_completed", map[string]any{
		"removed": removed,
		"tracked": tracked,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"removed": removed,
		"tracked": tracked,
	})
}

// Unlock forgets one identifier, for example "ip:203.0.113.7" or "user:alice".
func (h *LockoutHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	identifier := strings.TrimSpace(r.PathValue("identifier"))
	if identifier == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "identifier is required"})
		return
	}

	existed := h.tracker.Clear(identifier)

	h.logger.Info("lockout_cleared", map[string]any{"identifier": identifier, "existed": existed})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"identifier": identifier,
		"cleared":    existed,
	})
}

func (h *LockoutHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return false
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
