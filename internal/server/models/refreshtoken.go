// Package models holds the records persisted by the auth service.
package models

import "time"

// RefreshToken is a persisted, revocable refresh credential. Access tokens
// are stateless and have no row.
type RefreshToken struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Token     string    `db:"token"`
	Expires   time.Time `db:"expires_at"`
	Revoked   bool      `db:"is_revoked"`
	CreatedAt time.Time `db:"created_at"`
	IPAddress string    `db:"ip_address"`
	UserAgent string    `db:"user_agent"`
}

// Expired reports whether t is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.Expires)
}

// SessionMeta is the client context recorded alongside a refresh token.
type SessionMeta struct {
	IPAddress string
	UserAgent string
}
