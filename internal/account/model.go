package account

import "time"

// User is the persisted account record. PasswordHash never leaves this
// package; callers receive Account or Session views instead.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	SessionToken *string
	LastLoginAt  *time.Time
	LastLogoutAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Account is the public view of a user returned by registration and profile
// lookups.
type Account struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Session is the result of a successful login: the signed access token plus
// the identity it was minted for.
type Session struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// LoginAttempt tracks consecutive failed logins for one username.
type LoginAttempt struct {
	Username       string
	FailedAttempts int
	LockedUntil    *time.Time
	UpdatedAt      time.Time
}
