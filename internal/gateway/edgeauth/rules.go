// Package edgeauth authenticates every request entering the gateway. An
// ordered Chain of Rules decides per request whether it passes as public or
// must carry a valid access token. Identity headers sent by clients are
// always removed.
package edgeauth

import (
	"fmt"
	"net/http"
	"strings"
)

// Predicate reports whether a rule applies to r.
type Predicate func(r *http.Request) bool

// PathExact matches one path.
func PathExact(path string) Predicate {
	return func(r *http.Request) bool { return r.URL.Path == path }
}

// PathPrefix matches path and everything below it on whole segments, so
// /api/posts covers /api/posts/1 but not /api/posts-admin.
func PathPrefix(prefix string) Predicate {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return func(r *http.Request) bool { return strings.HasPrefix(r.URL.Path, prefix) }
	}
	return func(r *http.Request) bool {
		p := r.URL.Path
		if !strings.HasPrefix(p, prefix) {
			return false
		}
		return len(p) == len(prefix) || p[len(prefix)] == '/'
	}
}

// Method matches any of methods.
func Method(methods ...string) Predicate {
	return func(r *http.Request) bool {
		for _, m := range methods {
			if r.Method == m {
				return true
			}
		}
		return false
	}
}

// All matches when every predicate matches.
func All(ps ...Predicate) Predicate {
	return func(r *http.Request) bool {
		for _, p := range ps {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// Rule pairs a predicate with the middleware applied when it matches.
type Rule struct {
	Name  string
	Match Predicate
	Wrap  func(http.Handler) http.Handler
}

// Public passes requests through untouched.
func Public(next http.Handler) http.Handler { return next }

// ParseRule builds a predicate from "METHOD /path" where METHOD may be "*"
// or omitted and a trailing "*" on the path makes it a prefix.
//
//	"POST /auth/login"   exact path, POST only
//	"GET /api/posts*"    any path under /api/posts, GET only
//	"/healthz"           exact path, any method
func ParseRule(entry string) (Predicate, error) {
	fields := strings.Fields(entry)
	var method, path string
	switch len(fields) {
	case 1:
		path = fields[0]
	case 2:
		method, path = strings.ToUpper(fields[0]), fields[1]
	default:
		return nil, fmt.Errorf("rule %q: want \"METHOD /path\"", entry)
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("rule %q: path must start with /", entry)
	}

	var match Predicate
	if prefix, ok := strings.CutSuffix(path, "*"); ok {
		match = PathPrefix(prefix)
	} else {
		match = PathExact(path)
	}
	if method != "" && method != "*" {
		match = All(Method(method), match)
	}
	return match, nil
}

// PublicRules turns allow-list entries into Public rules.
func PublicRules(entries []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(entries))
	for _, entry := range entries {
		match, err := ParseRule(entry)
		if err != nil {
			return nil, err
		}
		rules = append(rules, Rule{Name: "public " + entry, Match: match, Wrap: Public})
	}
	return rules, nil
}
