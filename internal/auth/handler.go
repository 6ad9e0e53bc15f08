package auth

import (
	"encoding/json"
	"errors"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"

	"svv-auth/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

const (
	LockoutKeyIP       = "ip"
	LockoutKeyUsername = "username"
)

type HandlerOptions struct {
	CookieEnabled bool
	CookieName    string
	SecureCookie  bool
	LockoutKey    string
}

type Handler struct {
	service *Service
	logger  *observability.Logger
	metrics *observability.Metrics
	opts    HandlerOptions
}

func NewHandler(service *Service, logger *observability.Logger, metrics *observability.Metrics, opts HandlerOptions) *Handler {
	if opts.CookieName == "" {
		opts.CookieName = "access_token"
	}
	if opts.LockoutKey == "" {
		opts.LockoutKey = LockoutKeyIP
	}
	return &Handler{service: service, logger: logger, metrics: metrics, opts: opts}
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.Register)
	mux.HandleFunc("POST /api/auth/token", h.Token)
	mux.HandleFunc("POST /api/auth/logout", h.Logout)
	mux.Handle("GET /api/auth/users/me", h.RequireUser(http.HandlerFunc(h.Me)))
	mux.Handle("PUT /api/auth/users/me", h.RequireUser(http.HandlerFunc(h.UpdateMe)))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if !decodeJSON(w, r, &body) {
		return
	}

	user, err := h.service.Register(r.Context(), body)
	if err != nil {
		if h.writeUserError(w, err) {
			return
		}
		sentry.CaptureException(err)
		h.logger.Error("register_failed", map[string]any{"error": err})
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	h.logger.Info("user_registered", map[string]any{"user_id": user.ID})
	writeJSON(w, http.StatusCreated, user.Response())
}

// Token accepts the OAuth2 password form or an equivalent JSON body.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeLogin(w, r)
	if !ok {
		return
	}

	identifier := h.lockoutIdentifier(r, body.Username)
	result, err := h.service.Login(r.Context(), identifier, body.Username, body.Password)
	if err != nil {
		var lockedErr ErrLoginLocked
		switch {
		case errors.As(err, &lockedErr):
			h.metrics.RecordLogin("locked")
			h.logger.Warn("login_locked", map[string]any{"identifier": identifier, "locked_until": lockedErr.Until})
			retryAfter := int(math.Ceil(lockedErr.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "too many login attempts, please try again later")
		case errors.Is(err, ErrInvalidCredentials):
			h.metrics.RecordLogin("invalid_credentials")
			h.logger.Info("login_failed", map[string]any{"identifier": identifier})
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "incorrect username or password")
		case errors.Is(err, ErrAccountInactive):
			h.metrics.RecordLogin("inactive")
			h.logger.Info("login_inactive_account", map[string]any{"identifier": identifier})
			writeError(w, http.StatusForbidden, "account is inactive, please contact administrator")
		default:
			h.metrics.RecordLogin("error")
			sentry.CaptureException(err)
			h.logger.Error("login_error", map[string]any{"error": err})
			writeError(w, http.StatusInternalServerError, "failed to login")
		}
		return
	}

	h.metrics.RecordLogin("success")
	h.logger.Info("login_succeeded", map[string]any{"user_id": result.User.ID})

	if h.opts.CookieEnabled {
		http.SetCookie(w, h.sessionCookie(result.Token.AccessToken, int(h.service.AccessTTL().Seconds())))
	}
	writeJSON(w, http.StatusOK, result.Token)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.opts.CookieEnabled {
		http.SetCookie(w, h.sessionCookie("", -1))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, user.Response())
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "could not validate credentials")
		return
	}

	var body UpdateProfileInput
	if !decodeJSON(w, r, &body) {
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), user, body)
	if err != nil {
		if h.writeUserError(w, err) {
			return
		}
		sentry.CaptureException(err)
		h.logger.Error("update_profile_failed", map[string]any{"user_id": user.ID, "error": err})
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	writeJSON(w, http.StatusOK, updated.Response())
}

func (h *Handler) lockoutIdentifier(r *http.Request, username string) string {
	if h.opts.LockoutKey == LockoutKeyUsername {
		return "user:" + username
	}
	return "ip:" + observability.ClientIP(r)
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *Handler) writeUserError(w http.ResponseWriter, err error) bool {
	var vErr ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Message)
	case errors.Is(err, ErrUsernameTaken):
		writeError(w, http.StatusConflict, "username already registered")
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "request conflicts with an existing user")
	default:
		return false
	}
	return true
}

func decodeLogin(w http.ResponseWriter, r *http.Request) (loginRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return loginRequest{}, false
		}
		body.Username = r.PostForm.Get("username")
		body.Password = r.PostForm.Get("password")
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxJSONBodyBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return loginRequest{}, false
		}
		body.Username = r.PostFormValue("username")
		body.Password = r.PostFormValue("password")
	default:
		decoder := json.NewDecoder(r.Body)
		if err := decoder.Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return loginRequest{}, false
		}
	}

	body.Username = strings.TrimSpace(body.Username)
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return loginRequest{}, false
	}

	return body, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
