package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

type userContextKey struct{}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey{}).(User)
	return user, ok
}

func withUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// RequireUser resolves the bearer token (Authorization header first, session
// cookie second) to an active user. Token failures all answer with the same
// 401; the reason only shows up in logs.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := h.bearerToken(r)
		if !ok {
			unauthorized(w)
			return
		}

		user, err := h.service.CurrentUser(r.Context(), tokenStr)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				h.logger.Info("token_rejected", map[string]any{"reason": "expired", "path": r.URL.Path})
				unauthorized(w)
			case errors.Is(err, ErrTokenInvalid):
				h.logger.Info("token_rejected", map[string]any{"reason": "invalid", "path": r.URL.Path, "error": err})
				unauthorized(w)
			case errors.Is(err, ErrAccountInactive):
				writeError(w, http.StatusForbidden, "inactive user")
			default:
				sentry.CaptureException(err)
				h.logger.Error("token_lookup_failed", map[string]any{"error": err})
				writeError(w, http.StatusInternalServerError, "failed to authenticate")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

func (h *Handler) bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		scheme, value, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		value = strings.TrimSpace(value)
		return value, value != ""
	}

	if h.opts.CookieEnabled {
		if cookie, err := r.Cookie(h.opts.CookieName); err == nil && cookie.Value != "" {
			return cookie.Value, true
		}
	}

	return "", false
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "could not validate credentials")
}
