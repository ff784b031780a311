package account

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the record set in process memory behind a single RWMutex,
// so a read-modify-write can never interleave with another mutation. It backs
// the service when no database is configured, and the package tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User         // keyed by user id
	attempts map[string]LoginAttempt // keyed by username
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		attempts: make(map[string]LoginAttempt),
	}
}

func (m *MemoryStore) Create(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	for _, existing := range m.users {
		if existing.Username == user.Username {
			return ErrDuplicateUsername
		}
	}

	m.users[user.ID] = user
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return copyUser(user), nil
}

func (m *MemoryStore) GetByUsername(_ context.Context, username string) (User, error) {
	return m.find(func(u User) bool { return u.Username == username })
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (User, error) {
	return m.find(func(u User) bool { return u.Email == email })
}

func (m *MemoryStore) find(match func(User) bool) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.users {
		if match(user) {
			return copyUser(user), nil
		}
	}
	return User{}, ErrNotFound
}

func (m *MemoryStore) UpdateSession(_ context.Context, userID, sessionID string, loginAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}

	loginAt = loginAt.UTC()
	user.SessionToken = &sessionID
	user.LastLoginAt = &loginAt
	user.UpdatedAt = loginAt
	m.users[userID] = user
	return nil
}

func (m *MemoryStore) ClearSession(_ context.Context, userID string, logoutAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}

	logoutAt = logoutAt.UTC()
	user.SessionToken = nil
	user.LastLogoutAt = &logoutAt
	user.UpdatedAt = logoutAt
	m.users[userID] = user
	return nil
}

func (m *MemoryStore) GetLoginAttempt(_ context.Context, username string) (LoginAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	attempt, ok := m.attempts[username]
	if !ok {
		return LoginAttempt{Username: username}, nil
	}
	return attempt, nil
}

func (m *MemoryStore) RegisterFailedAttempt(_ context.Context, username string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempt := m.attempts[username]
	attempt.Username = username

	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		until := *attempt.LockedUntil
		return &until, nil
	}

	attempt.FailedAttempts++
	attempt.UpdatedAt = now.UTC()
	var nextLock *time.Time
	if attempt.FailedAttempts >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		nextLock = &until
		attempt.LockedUntil = &until
		attempt.FailedAttempts = 0
	}

	m.attempts[username] = attempt
	return nextLock, nil
}

func (m *MemoryStore) ResetLoginAttempt(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.attempts, username)
	return nil
}

func (m *MemoryStore) CleanupStaleLoginAttempts(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	now := time.Now().UTC()
	for username, attempt := range m.attempts {
		locked := attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil)
		if attempt.UpdatedAt.Before(cutoff) && !locked {
			delete(m.attempts, username)
			deleted++
		}
	}
	return deleted, nil
}

// Count reports the number of stored records.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.users)
}

func copyUser(user User) User {
	if user.SessionToken != nil {
		token := *user.SessionToken
		user.SessionToken = &token
	}
	if user.LastLoginAt != nil {
		value := *user.LastLoginAt
		user.LastLoginAt = &value
	}
	if user.LastLogoutAt != nil {
		value := *user.LastLogoutAt
		user.LastLogoutAt = &value
	}
	return user
}
