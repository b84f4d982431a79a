// Package authn maps identities onto access-token claims and back. Both the
// auth service and the gateway validate tokens through this package so the
// claim layout lives in one place.
package authn

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/tokencodec"
)

// Custom claim names carried in every access token.
const (
	ClaimEmail    = "email"
	ClaimRole     = "role"
	ClaimNickname = "nickname"
)

// Identity is the snapshot of a user embedded in an access token.
type Identity struct {
	UserID   string
	Email    string
	Role     string
	Nickname string
}

// Claims returns the custom claims for i; the user id travels as sub.
func (i Identity) Claims() map[string]string {
	return map[string]string{
		ClaimEmail:    i.Email,
		ClaimRole:     i.Role,
		ClaimNickname: i.Nickname,
	}
}

// FromClaims rebuilds an Identity from verified claims.
func FromClaims(c *tokencodec.Claims) Identity {
	return Identity{
		UserID:   c.Subject,
		Email:    c.Values[ClaimEmail],
		Role:     c.Values[ClaimRole],
		Nickname: c.Values[ClaimNickname],
	}
}

// Validator checks access tokens without touching any store. Revoked
// sessions keep working until their access token expires.
type Validator struct {
	codec *tokencodec.Codec
}

// NewValidator wraps codec for identity-level signing and validation.
func NewValidator(codec *tokencodec.Codec) *Validator {
	return &Validator{codec: codec}
}

// Sign encodes an access token for identity.
func (v *Validator) Sign(identity Identity, ttl time.Duration) (string, error) {
	return v.codec.Encode(identity.UserID, identity.Claims(), ttl)
}

// Validate decodes token and returns the identity it carries.
func (v *Validator) Validate(token string) (*Identity, error) {
	claims, err := v.codec.Decode(token)
	if err != nil {
		return nil, err
	}
	id := FromClaims(claims)
	return &id, nil
}

// BearerToken extracts the credential from an Authorization header value.
// The scheme is matched case-insensitively; anything else is rejected.
func BearerToken(header string) (string, bool) {
	const scheme = len(common.BearerPrefix)
	if len(header) <= scheme || !strings.EqualFold(header[:scheme], common.BearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[scheme:])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

type ctxKey struct{}

// NewContext returns ctx carrying identity.
func NewContext(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, identity)
}

// FromContext returns the identity stored by NewContext, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
