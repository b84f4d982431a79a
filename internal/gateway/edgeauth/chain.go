package edgeauth

import (
	"net/http"
	"path"
	"strings"

	"github.com/dmitrijs2005/authgate/internal/common"
)

// Chain evaluates rules in order; the first match wins and unmatched
// requests go through the fallback.
type Chain struct {
	rules    []Rule
	fallback func(http.Handler) http.Handler
}

// NewChain builds a chain. fallback is normally Filter.Authenticate so that
// anything not explicitly allowed requires a token.
func NewChain(fallback func(http.Handler) http.Handler, rules ...Rule) *Chain {
	return &Chain{rules: rules, fallback: fallback}
}

// Handler wraps next with the chain.
func (c *Chain) Handler(next http.Handler) http.Handler {
	wrapped := make([]http.Handler, len(c.rules))
	for i, rule := range c.rules {
		wrapped[i] = rule.Wrap(next)
	}
	fallback := c.fallback(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = stripIdentity(cleanPath(r))
		for i, rule := range c.rules {
			if rule.Match(r) {
				wrapped[i].ServeHTTP(w, r)
				return
			}
		}
		fallback.ServeHTTP(w, r)
	})
}

// stripIdentity returns a copy of r without client-supplied identity headers.
func stripIdentity(r *http.Request) *http.Request {
	found := false
	for _, h := range common.IdentityHeaders {
		if _, ok := r.Header[h]; ok {
			found = true
			break
		}
	}
	if !found {
		return r
	}
	out := r.Clone(r.Context())
	for _, h := range common.IdentityHeaders {
		out.Header.Del(h)
	}
	return out
}

// cleanPath resolves dot segments so that rules match the path that is
// actually forwarded.
func cleanPath(r *http.Request) *http.Request {
	p := r.URL.Path
	if p == "" {
		p = "/"
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	if cleaned == r.URL.Path {
		return r
	}
	out := r.Clone(r.Context())
	out.URL.Path = cleaned
	out.URL.RawPath = ""
	return out
}
