package tokencodec

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

var (
	testKey      = []byte("0123456789abcdef0123456789abcdef")
	testSecret   = base64.StdEncoding.EncodeToString(testKey)
	otherSecret  = base64.StdEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210"))
	fixedNow     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sampleClaims = map[string]string{"email": "a@b.io", "role": "ADMIN", "nickname": "ann"}
)

func newCodec(t *testing.T, secret string, now time.Time) *Codec {
	t.Helper()
	c, err := NewCodec(secret, "authgate-test", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewCodec error: %v", err)
	}
	return c
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	c := newCodec(t, testSecret, fixedNow)

	tok, err := c.Encode("42", sampleClaims, time.Hour)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	got, err := c.Decode(tok)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got.Subject != "42" {
		t.Fatalf("subject mismatch: got %q", got.Subject)
	}
	if got.Issuer != "authgate-test" {
		t.Fatalf("issuer mismatch: got %q", got.Issuer)
	}
	if !got.IssuedAt.Equal(fixedNow) || !got.ExpiresAt.Equal(fixedNow.Add(time.Hour)) {
		t.Fatalf("unexpected times: iat=%v exp=%v", got.IssuedAt, got.ExpiresAt)
	}
	for k, v := range sampleClaims {
		if got.Values[k] != v {
			t.Fatalf("claim %q: got %q want %q", k, got.Values[k], v)
		}
	}
	if len(got.Values) != len(sampleClaims) {
		t.Fatalf("unexpected extra claims: %v", got.Values)
	}
}

func TestDecode_ExpiredRegardlessOfSignature(t *testing.T) {
	t.Parallel()

	issuer := newCodec(t, testSecret, fixedNow)
	tok, err := issuer.Encode("7", nil, time.Minute)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	later := fixedNow.Add(2 * time.Minute)

	sameKey := newCodec(t, testSecret, later)
	if _, err := sameKey.Decode(tok); !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("same key: want ErrTokenExpired, got %v", err)
	}

	otherKey := newCodec(t, otherSecret, later)
	if _, err := otherKey.Decode(tok); !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("other key: want ErrTokenExpired, got %v", err)
	}
}

func TestDecode_ExpiresExactlyAtExp(t *testing.T) {
	t.Parallel()

	tok, err := newCodec(t, testSecret, fixedNow).Encode("7", nil, time.Minute)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	justBefore := newCodec(t, testSecret, fixedNow.Add(time.Minute-time.Millisecond))
	if _, err := justBefore.Decode(tok); err != nil {
		t.Fatalf("token must still be valid just before exp: %v", err)
	}

	atExp := newCodec(t, testSecret, fixedNow.Add(time.Minute))
	if _, err := atExp.Decode(tok); !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired at exp, got %v", err)
	}
}

func TestDecode_WrongKey(t *testing.T) {
	t.Parallel()

	tok, err := newCodec(t, testSecret, fixedNow).Encode("u2", sampleClaims, time.Hour)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	_, err = newCodec(t, otherSecret, fixedNow).Decode(tok)
	if !errors.Is(err, common.ErrTokenSignatureInvalid) {
		t.Fatalf("want ErrTokenSignatureInvalid, got %v", err)
	}
}

func TestDecode_TamperedPayload(t *testing.T) {
	t.Parallel()

	c := newCodec(t, testSecret, fixedNow)
	tok, err := c.Encode("1", map[string]string{"role": "USER"}, time.Hour)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "1",
		"iss":  "authgate-test",
		"role": "ADMIN",
		"exp":  jwt.NewNumericDate(fixedNow.Add(time.Hour)),
	}).SignedString([]byte("not-the-right-key-not-the-right-key"))
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}

	parts := strings.Split(tok, ".")
	forgedParts := strings.Split(forged, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	if _, err := c.Decode(spliced); !errors.Is(err, common.ErrTokenSignatureInvalid) {
		t.Fatalf("want ErrTokenSignatureInvalid, got %v", err)
	}
}

func TestDecode_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	c := newCodec(t, testSecret, fixedNow)
	claims := jwt.MapClaims{
		"sub": "1",
		"iss": "authgate-test",
		"exp": jwt.NewNumericDate(fixedNow.Add(time.Hour)),
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := c.Decode(none); !errors.Is(err, common.ErrTokenSignatureInvalid) {
		t.Fatalf("alg none: want ErrTokenSignatureInvalid, got %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}
	if _, err := c.Decode(hs512); !errors.Is(err, common.ErrTokenSignatureInvalid) {
		t.Fatalf("alg HS512: want ErrTokenSignatureInvalid, got %v", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	c := newCodec(t, testSecret, fixedNow)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1", "iss": "authgate-test"}).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "authgate-test",
		"exp": jwt.NewNumericDate(fixedNow.Add(time.Hour)),
	}).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := map[string]string{
		"empty":       "",
		"garbage":     "not-a-valid-jwt",
		"two parts":   "abc.def",
		"bad base64":  "@@@.###.$$$",
		"missing exp": noExp,
		"missing sub": noSub,
	}
	for name, tok := range cases {
		if _, err := c.Decode(tok); !errors.Is(err, common.ErrTokenMalformed) {
			t.Fatalf("%s: want ErrTokenMalformed, got %v", name, err)
		}
	}
}

func TestDecode_WrongIssuer(t *testing.T) {
	t.Parallel()

	other, err := NewCodec(testSecret, "someone-else", WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("NewCodec error: %v", err)
	}
	tok, err := other.Encode("1", nil, time.Hour)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	if _, err := newCodec(t, testSecret, fixedNow).Decode(tok); !errors.Is(err, common.ErrTokenMalformed) {
		t.Fatalf("want ErrTokenMalformed, got %v", err)
	}
}

func TestEncode_InvalidInput(t *testing.T) {
	t.Parallel()

	c := newCodec(t, testSecret, fixedNow)

	for _, reserved := range []string{"sub", "exp", "iss", "iat", "aud"} {
		if _, err := c.Encode("1", map[string]string{reserved: "x"}, time.Hour); !errors.Is(err, common.ErrInvalidInput) {
			t.Fatalf("reserved %q: want ErrInvalidInput, got %v", reserved, err)
		}
	}
	if _, err := c.Encode("", nil, time.Hour); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("empty subject: want ErrInvalidInput, got %v", err)
	}
	if _, err := c.Encode("1", nil, 0); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("zero ttl: want ErrInvalidInput, got %v", err)
	}
}

func TestNewCodec_KeyValidation(t *testing.T) {
	t.Parallel()

	short := base64.StdEncoding.EncodeToString([]byte("only-sixteen-byt"))
	if _, err := NewCodec(short, ""); !errors.Is(err, common.ErrWeakSigningKey) {
		t.Fatalf("short key: want ErrWeakSigningKey, got %v", err)
	}
	if _, err := NewCodec("%%% not base64 %%%", ""); !errors.Is(err, common.ErrInvalidSigningKey) {
		t.Fatalf("bad base64: want ErrInvalidSigningKey, got %v", err)
	}

	urlSafe := base64.RawURLEncoding.EncodeToString(testKey)
	c, err := NewCodec(urlSafe, "")
	if err != nil {
		t.Fatalf("url-safe key: %v", err)
	}
	if c.Issuer() != DefaultIssuer {
		t.Fatalf("want default issuer %q, got %q", DefaultIssuer, c.Issuer())
	}
}

func TestCodec_ConcurrentUse(t *testing.T) {
	t.Parallel()

	c := newCodec(t, testSecret, fixedNow)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.Encode("9", sampleClaims, time.Hour)
			if err != nil {
				errs <- err
				return
			}
			if _, err := c.Decode(tok); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent encode/decode failed: %v", err)
	}
}
