package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const defaultAccessTTL = 30 * time.Minute

// UserStore is the persistence collaborator. Lookups return ErrUserNotFound
// when nothing matches; writes return ErrUsernameTaken / ErrEmailTaken on
// unique violations.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	UsernameTaken(ctx context.Context, username, exceptID string) (bool, error)
	EmailTaken(ctx context.Context, email, exceptID string) (bool, error)
	Create(ctx context.Context, user NewUser) (User, error)
	UpdateProfile(ctx context.Context, id string, username, email *string) (User, error)
}

type Service struct {
	users     UserStore
	hasher    PasswordHasher
	tokens    *TokenIssuer
	tracker   *AttemptTracker
	validate  *validator.Validate
	accessTTL time.Duration
	dummyHash string
}

func NewService(users UserStore, hasher PasswordHasher, tokens *TokenIssuer, tracker *AttemptTracker) (*Service, error) {
	if tokens == nil {
		return nil, ErrSigningKeyMissing
	}

	// Verified against when the username is unknown so both failure paths
	// pay for one hash comparison.
	dummy, err := hasher.Hash("svv-auth-timing-placeholder")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &Service{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		tracker:   tracker,
		validate:  newValidator(),
		accessTTL: defaultAccessTTL,
		dummyHash: dummy,
	}, nil
}

func (s *Service) WithAccessTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.accessTTL = ttl
	}
	return s
}

func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

func (s *Service) Tracker() *AttemptTracker {
	return s.tracker
}

// Authenticate checks a username/password pair. Unknown users and wrong
// passwords both return ErrInvalidCredentials. It does not look at IsActive.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.hasher.Verify(password, s.dummyHash)
			return User{}, ErrInvalidCredentials
		}
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	if !s.hasher.Verify(password, user.HashedPassword) {
		return User{}, ErrInvalidCredentials
	}

	return user, nil
}

// Login runs one attempt through lockout, credential and account checks.
// identifier is the tracker key chosen by the caller. A successful login
// leaves the tracker untouched so one correct guess cannot reset a shared
// counter.
func (s *Service) Login(ctx context.Context, identifier, username, password string) (LoginResult, error) {
	if until, locked := s.tracker.CheckLocked(identifier); locked {
		return LoginResult{}, ErrLoginLocked{Until: until, RetryAfter: s.tracker.remaining(until)}
	}

	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.tracker.RecordFailure(identifier)
		}
		return LoginResult{}, err
	}

	if !user.IsActive {
		return LoginResult{}, ErrAccountInactive
	}

	return s.IssueToken(user)
}

func (s *Service) IssueToken(user User) (LoginResult, error) {
	access, expiresAt, err := s.tokens.Issue(user, s.accessTTL)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		User: user,
		Token: Token{
			AccessToken: access,
			TokenType:   "bearer",
			ExpiresIn:   int64(s.accessTTL.Seconds()),
		},
		ExpiresAt: expiresAt,
	}, nil
}

// CurrentUser resolves a bearer token to an active user.
func (s *Service) CurrentUser(ctx context.Context, token string) (User, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return User{}, err
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, fmt.Errorf("%w: subject not found", ErrTokenInvalid)
		}
		return User{}, fmt.Errorf("lookup token subject: %w", err)
	}
	if user.TokenVersion != claims.TokenVersion {
		return User{}, fmt.Errorf("%w: token version revoked", ErrTokenInvalid)
	}
	if !user.IsActive {
		return User{}, ErrAccountInactive
	}

	return user, nil
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)

	if err := s.validate.Struct(input); err != nil {
		return User{}, validationMessage(err, input)
	}

	taken, err := s.users.UsernameTaken(ctx, input.Username, "")
	if err != nil {
		return User{}, err
	}
	if taken {
		return User{}, ErrUsernameTaken
	}

	taken, err = s.users.EmailTaken(ctx, input.Email, "")
	if err != nil {
		return User{}, err
	}
	if taken {
		return User{}, ErrEmailTaken
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return User{}, err
	}

	return s.users.Create(ctx, NewUser{
		Username:       input.Username,
		Email:          input.Email,
		HashedPassword: hash,
		IsActive:       true,
	})
}

// UpdateProfile applies the fields that are present and differ from the
// current values. Email comparison ignores case.
func (s *Service) UpdateProfile(ctx context.Context, current User, input UpdateProfileInput) (User, error) {
	if input.Username != nil {
		trimmed := strings.TrimSpace(*input.Username)
		input.Username = &trimmed
	}
	if input.Email != nil {
		trimmed := strings.TrimSpace(*input.Email)
		input.Email = &trimmed
	}

	if err := s.validate.Struct(input); err != nil {
		return User{}, validationMessage(err, input)
	}

	var username, email *string
	if input.Username != nil && *input.Username != "" && *input.Username != current.Username {
		taken, err := s.users.UsernameTaken(ctx, *input.Username, current.ID)
		if err != nil {
			return User{}, err
		}
		if taken {
			return User{}, ErrUsernameTaken
		}
		username = input.Username
	}

	if input.Email != nil && *input.Email != "" && !strings.EqualFold(*input.Email, current.Email) {
		taken, err := s.users.EmailTaken(ctx, *input.Email, current.ID)
		if err != nil {
			return User{}, err
		}
		if taken {
			return User{}, ErrEmailTaken
		}
		email = input.Email
	}

	if username == nil && email == nil {
		return current, nil
	}

	return s.users.UpdateProfile(ctx, current.ID, username, email)
}

// BootstrapAdmin creates a superuser when ADMIN_* settings are present and
// no user holds that username yet.
func (s *Service) BootstrapAdmin(ctx context.Context, username, email, password string) (bool, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" && email == "" && password == "" {
		return false, nil
	}
	if username == "" || email == "" || password == "" {
		return false, fmt.Errorf("ADMIN_USERNAME, ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	taken, err := s.users.UsernameTaken(ctx, username, "")
	if err != nil {
		return false, err
	}
	if taken {
		return false, nil
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, err
	}

	if _, err := s.users.Create(ctx, NewUser{
		Username:       username,
		Email:          email,
		HashedPassword: hash,
		IsActive:       true,
		IsSuperuser:    true,
	}); err != nil {
		return false, fmt.Errorf("create admin user: %w", err)
	}

	return true, nil
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrEmailTaken         = errors.New("email already registered")
)

type ErrLoginLocked struct {
	Until      time.Time
	RetryAfter time.Duration
}

func (e ErrLoginLocked) Error() string {
	return "too many login attempts"
}
