package models

import "time"

// Roles assigned to credentials.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Credential is the primary-factor record for one account. PasswordHash is
// empty for accounts created through an external provider only.
type Credential struct {
	UserID          string    `db:"id"`
	Email           string    `db:"email"`
	PasswordHash    string    `db:"password_hash"`
	Role            string    `db:"role"`
	Nickname        string    `db:"nickname"`
	Enabled         bool      `db:"enabled"`
	Provider        string    `db:"provider"`
	ProviderSubject string    `db:"provider_subject"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// ExternalIdentity is what an OAuth provider asserts about a user.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}
