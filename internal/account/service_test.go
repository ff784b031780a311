package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(store Store) *Service {
	s := NewService(store, "test-secret")
	s.WithSecurityConfig(0, 0, 0, bcrypt.MinCost)
	return s
}

func TestRegisterCreatesRecord(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	ctx := context.Background()

	acct, err := service.Register(ctx, "alice", "alice@x.com", "pw1")
	require.NoError(t, err)
	assert.NotEmpty(t, acct.UserID)
	assert.Equal(t, "alice", acct.Username)
	assert.Equal(t, "alice@x.com", acct.Email)

	user, err := store.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "pw1", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("pw1")))
	assert.Nil(t, user.SessionToken)
	assert.Nil(t, user.LastLoginAt)
	assert.Nil(t, user.LastLogoutAt)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	ctx := context.Background()

	_, err := service.Register(ctx, "alice", "alice@x.com", "pw1")
	require.NoError(t, err)

	_, err = service.Register(ctx, "alice2", "alice@x.com", "pw2")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.Equal(t, 1, store.Count())
}

func TestRegisterDuplicateUsername(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	ctx := context.Background()

	_, err := service.Register(ctx, "alice", "alice@x.com", "pw1")
	require.NoError(t, err)

	_, err = service.Register(ctx, "alice", "other@x.com", "pw2")
	assert.ErrorIs(t, err, ErrDuplicateUsername)
	assert.Equal(t, 1, store.Count())
}

func TestRegisterNormalizesInput(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	ctx := context.Background()

	acct, err := service.Register(ctx, "  Alice ", " ALICE@X.COM ", "pw1")
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.Username)
	assert.Equal(t, "alice@x.com", acct.Email)
}

func TestRegisterRejectsMalformedEmail(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	ctx := context.Background()

	for _, email := range []string{"not-an-email", "missing@tld", "two@@x.com", "spaces in@x.com"} {
		_, err := service.Register(ctx, "alice", email, "pw1")
		assert.ErrorIs(t, err, ErrInvalidInput, email)
	}
	assert.Zero(t, store.Count())
}

func TestRegisterEmptyInput(t *testing.T) {
	service := newTestService(NewMemoryStore())
	ctx := context.Background()

	_, err := service.Register(ctx, "", "alice@x.com", "pw1")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = service.Register(ctx, "alice", "", "pw1")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = service.Register(ctx, "alice", "alice@x.com", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoginSuccessSetsSession(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	ctx := context.Background()

	acct, err := service.Register(ctx, "alice", "alice@x.com", "pw1")
	require.NoError(t, err)

	session, err := service.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, acct.UserID, session.UserID)
	assert.Equal(t, "alice", session.Username)
	assert.NotEmpty(t, session.AccessToken)
	assert.Equal(t, "Bearer", session.TokenType)
	assert.Positive(t, session.ExpiresIn)

	user, err := store.GetByID(ctx, acct.UserID)
	require.NoError(t, err)
	require.NotNil(t, user.SessionToken)
	assert.NotEmpty(t, *user.SessionToken)
	require.NotNil(t, user.LastLoginAt)
	assert.WithinDuration(t, time.Now().UTC(), *user.LastLoginAt, time.Minute)
}

func TestLoginWrongPasswordAndUnknownUser(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	ctx := context.Background()

	_, err := service.Register(ctx, "alice", "alice@x.com", "pw1")
	require.NoError(t, err)

	_, err = service.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.Login(ctx, "bob", "anything")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginEmptyStore(t *testing.T) {
	service := newTestService(NewMemoryStore())

	_, err := service.Login(context.Background(), "alice", "pw1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSessionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	ctx := context.Background()

	acct, err := service.Register(ctx, "alice", "alice@x.com", "pw1")
	require.NoError(t, err)

	_, err = service.Login(ctx, "alice", "pw1")
	require.NoError(t, err)

	user, err := store.GetByID(ctx, acct.UserID)
	require.NoError(t, err)
	require.NotNil(t, user.SessionToken)
	firstToken := *user.SessionToken

	err = service.Logout(ctx, acct.UserID, firstToken)
	require.NoError(t, err)

	user, err = store.GetByID(ctx, acct.UserID)
	require.NoError(t, err)
	assert.Nil(t, user.SessionToken)
	require.NotNil(t, user.LastLogoutAt)

	_, err = service.Login(ctx, "alice", "pw1")
	require.NoError(t, err)

	user, err = store.GetByID(ctx, acct.UserID)
	require.NoError(t, err)
	require.NotNil(t, user.SessionToken)
	assert.NotEqual(t, firstToken, *user.SessionToken)
}

func TestLogoutWithoutActiveSession(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	ctx := context.Background()

	acct, err := service.Register(ctx, "alice", "alice@x.com", "pw1")
	require.NoError(t, err)

	err = service.Logout(ctx, acct.UserID, "not-a-session")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	err = service.Logout(ctx, "missing-user", "whatever")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestLogoutStaleSessionAfterRelogin(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	ctx := context.Background()

	acct, err := service.Register(ctx, "alice", "alice@x.com", "pw1")
	require.NoError(t, err)

	_, err = service.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	user, err := store.GetByID(ctx, acct.UserID)
	require.NoError(t, err)
	staleToken := *user.SessionToken

	// Second login overwrites the first session.
	_, err = service.Login(ctx, "alice", "pw1")
	require.NoError(t, err)

	err = service.Logout(ctx, acct.UserID, staleToken)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestLookup(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	ctx := context.Background()

	acct, err := service.Register(ctx, "alice", "alice@x.com", "pw1")
	require.NoError(t, err)

	_, err = service.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	user, err := store.GetByID(ctx, acct.UserID)
	require.NoError(t, err)

	got, err := service.Lookup(ctx, acct.UserID, *user.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, acct, got)

	_, err = service.Lookup(ctx, acct.UserID, "stale")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestLoginLockout(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(store)
	service.WithSecurityConfig(3, time.Minute, 0, 0)
	ctx := context.Background()

	_, err := service.Register(ctx, "alice", "alice@x.com", "pw1")
	require.NoError(t, err)

	_, err = service.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = service.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.Login(ctx, "alice", "wrong")
	var locked ErrLoginLocked
	require.ErrorAs(t, err, &locked)
	assert.True(t, locked.Until.After(time.Now()))

	// Correct password is still rejected while locked.
	_, err = service.Login(ctx, "alice", "pw1")
	assert.ErrorAs(t, err, &locked)
}
