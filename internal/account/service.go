package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTTL   = 30 * time.Minute
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

// emailRegex is the single syntactic gate for email addresses; the service
// enforces it so that no caller, HTTP or otherwise, can persist a malformed
// address.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Store is the persistence boundary of the credential store. Implementations
// must serialize mutations so that two concurrent registrations can never
// both pass the uniqueness check (transaction in Postgres, mutex in memory).
type Store interface {
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, id string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	UpdateSession(ctx context.Context, userID, sessionID string, loginAt time.Time) error
	ClearSession(ctx context.Context, userID string, logoutAt time.Time) error

	GetLoginAttempt(ctx context.Context, username string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, username string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, username string) error
	CleanupStaleLoginAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type Service struct {
	store        Store
	jwtSecret    []byte
	accessTTL    time.Duration
	maxAttempts  int
	lockDuration time.Duration
	bcryptCost   int
}

func NewService(store Store, jwtSecret string) *Service {
	return &Service{
		store:        store,
		jwtSecret:    []byte(jwtSecret),
		accessTTL:    defaultAccessTTL,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
		bcryptCost:   bcrypt.DefaultCost,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration time.Duration, accessTTL time.Duration, bcryptCost int) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if bcryptCost >= bcrypt.MinCost && bcryptCost <= bcrypt.MaxCost {
		s.bcryptCost = bcryptCost
	}
}

// Register creates a new user record with a freshly generated id and a bcrypt
// hash of the password. Session fields start empty. Duplicate username or
// email fails without touching the record set.
func (s *Service) Register(ctx context.Context, username, email, password string) (Account, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	email = strings.TrimSpace(strings.ToLower(email))
	password = strings.TrimSpace(password)

	if username == "" || email == "" || password == "" {
		return Account{}, ErrInvalidInput
	}
	if !emailRegex.MatchString(email) {
		return Account{}, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	user := User{
		ID:           id.String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, user); err != nil {
		return Account{}, err
	}

	return Account{UserID: user.ID, Username: user.Username, Email: user.Email}, nil
}

// Login verifies the password against the stored hash and, on success,
// overwrites any prior session with a fresh one and mints an access token.
// Unknown username and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	password = strings.TrimSpace(password)

	if username == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	attempt, err := s.store.GetLoginAttempt(ctx, username)
	if err != nil {
		return Session{}, err
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return Session{}, ErrLoginLocked{Until: *attempt.LockedUntil}
	}

	user, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, s.failLogin(ctx, username, now)
		}
		return Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, s.failLogin(ctx, username, now)
	}

	if err := s.store.ResetLoginAttempt(ctx, username); err != nil {
		return Session{}, err
	}

	sessionID, err := randomToken(32)
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}
	if err := s.store.UpdateSession(ctx, user.ID, sessionID, now); err != nil {
		return Session{}, err
	}

	access, expiresIn, err := s.issueAccessToken(user.ID, sessionID)
	if err != nil {
		return Session{}, err
	}

	return Session{
		UserID:      user.ID,
		Username:    user.Username,
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
	}, nil
}

// Logout clears the active session and records the logout time. The presented
// session must be the currently active one.
func (s *Service) Logout(ctx context.Context, userID, sessionID string) error {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNoActiveSession
		}
		return err
	}

	if user.SessionToken == nil || *user.SessionToken != sessionID {
		return ErrNoActiveSession
	}

	return s.store.ClearSession(ctx, user.ID, time.Now().UTC())
}

// Lookup returns the public view of the user behind an authenticated session.
func (s *Service) Lookup(ctx context.Context, userID, sessionID string) (Account, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Account{}, ErrNoActiveSession
		}
		return Account{}, err
	}

	if user.SessionToken == nil || *user.SessionToken != sessionID {
		return Account{}, ErrNoActiveSession
	}

	return Account{UserID: user.ID, Username: user.Username, Email: user.Email}, nil
}

func (s *Service) failLogin(ctx context.Context, username string, now time.Time) error {
	lockedUntil, err := s.store.RegisterFailedAttempt(ctx, username, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return err
	}
	if lockedUntil != nil {
		return ErrLoginLocked{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

func (s *Service) issueAccessToken(userID, sessionID string) (string, int64, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": userID,
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"typ": "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, int64(s.accessTTL.Seconds()), nil
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrNoActiveSession    = errors.New("no active session")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}
