package edgeauth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/metrics"
)

// Filter validates bearer tokens locally with the shared codec.
type Filter struct {
	validator *authn.Validator
	metrics   *metrics.Metrics
	logger    logging.Logger
}

// NewFilter returns a filter that validates tokens with v and records outcomes in m.
func NewFilter(v *authn.Validator, m *metrics.Metrics, logger logging.Logger) *Filter {
	return &Filter{validator: v, metrics: m, logger: logger.With("module", "edgeauth")}
}

// Authenticate rejects requests without a valid access token with 401 and
// forwards the rest with identity headers taken from the token claims.
func (f *Filter) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := authn.BearerToken(r.Header.Get(common.AuthorizationHeader))
		if !ok {
			f.reject(w, r, "missing_token")
			return
		}

		identity, err := f.validator.Validate(token)
		if err != nil {
			f.reject(w, r, result(err))
			return
		}
		f.metrics.Validation("gateway", "ok")

		out := r.Clone(authn.NewContext(r.Context(), *identity))
		setIdentity(out.Header, *identity)
		next.ServeHTTP(w, out)
	})
}

func (f *Filter) reject(w http.ResponseWriter, r *http.Request, reason string) {
	f.metrics.Validation("gateway", reason)
	f.logger.Debug(r.Context(), "rejected request", "path", r.URL.Path, "reason", reason)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

func setIdentity(h http.Header, id authn.Identity) {
	h.Set(common.UserIDHeader, id.UserID)
	h.Set(common.UserEmailHeader, id.Email)
	h.Set(common.UserRoleHeader, id.Role)
	h.Set(common.UserNicknameHeader, id.Nickname)
}

func result(err error) string {
	switch {
	case errors.Is(err, common.ErrTokenExpired):
		return "expired"
	case errors.Is(err, common.ErrTokenSignatureInvalid):
		return "bad_signature"
	default:
		return "malformed"
	}
}
