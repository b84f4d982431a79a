package httpserver

import (
	"net/http"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/common"
)

// requireAccessToken validates the bearer token and puts the identity on
// the request context.
func (s *Server) requireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := authn.BearerToken(r.Header.Get(common.AuthorizationHeader))
		if !ok {
			s.writeError(r.Context(), w, common.ErrTokenMalformed)
			return
		}
		identity, err := s.tokens.Validate(token)
		if err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(authn.NewContext(r.Context(), *identity)))
	})
}
