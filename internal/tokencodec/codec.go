// Package tokencodec builds and parses the HS256 access tokens shared by the
// auth service and the gateway. It does no I/O and keeps no mutable state, so
// one Codec can be used from any number of goroutines.
package tokencodec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// MinKeyBytes is the shortest accepted HMAC key (256 bits).
const MinKeyBytes = 32

// DefaultIssuer is stamped into tokens when no issuer is configured.
const DefaultIssuer = "authgate"

var reservedClaims = map[string]struct{}{
	"sub": {}, "iss": {}, "iat": {}, "exp": {}, "nbf": {}, "aud": {}, "jti": {},
}

// Claims is the verified content of an access token.
type Claims struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Values holds the custom string claims (email, role, nickname, ...).
	Values map[string]string
}

// Codec signs and verifies tokens with a single symmetric key.
type Codec struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec decodes secretBase64 (standard or URL alphabet, padding optional)
// and refuses keys shorter than MinKeyBytes. Both failures are configuration
// errors and callers are expected to abort startup on them.
func NewCodec(secretBase64, issuer string, opts ...Option) (*Codec, error) {
	key, err := DecodeKey(secretBase64)
	if err != nil {
		return nil, err
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}

	c := &Codec{key: key, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DecodeKey turns the configured secret into key bytes.
func DecodeKey(secretBase64 string) ([]byte, error) {
	s := strings.TrimSpace(secretBase64)
	encodings := []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		key, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if len(key) < MinKeyBytes {
			return nil, fmt.Errorf("%w: got %d bytes", common.ErrWeakSigningKey, len(key))
		}
		return key, nil
	}
	return nil, common.ErrInvalidSigningKey
}

// Issuer returns the iss value this codec writes and expects.
func (c *Codec) Issuer() string { return c.issuer }

// Encode signs a token for subject that expires ttl from now. claims are
// copied flat into the payload and must not use registered claim names.
func (c *Codec) Encode(subject string, claims map[string]string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: empty subject", common.ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: non-positive ttl %s", common.ErrInvalidInput, ttl)
	}

	now := c.now()
	payload := jwt.MapClaims{
		"sub": subject,
		"iss": c.issuer,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
	for k, v := range claims {
		if _, ok := reservedClaims[k]; ok {
			return "", fmt.Errorf("%w: claim %q is reserved", common.ErrInvalidInput, k)
		}
		payload[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("error signing token: %w", err)
	}
	return signed, nil
}

// Decode verifies tokenString. Checks run in this order: structure, expiry,
// signature and algorithm, issuer. An expired token is reported as
// ErrTokenExpired whether or not its signature is valid.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	now := c.now()

	unverified := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, unverified); err != nil {
		return nil, common.ErrTokenMalformed
	}
	exp, err := unverified.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, common.ErrTokenMalformed
	}
	if !now.Before(exp.Time) {
		return nil, common.ErrTokenExpired
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
	)

	verified := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(tokenString, verified, c.keyFunc)
	if err != nil {
		return nil, classify(err)
	}

	return toClaims(verified)
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return c.key, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return common.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return common.ErrTokenSignatureInvalid
	default:
		return common.ErrTokenMalformed
	}
}

func toClaims(mc jwt.MapClaims) (*Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, common.ErrTokenMalformed
	}
	iss, _ := mc.GetIssuer()

	out := &Claims{Subject: sub, Issuer: iss, Values: map[string]string{}}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}

	for k, v := range mc {
		if _, ok := reservedClaims[k]; ok {
			continue
		}
		if s, ok := v.(string); ok {
			out.Values[k] = s
		}
	}
	return out, nil
}
