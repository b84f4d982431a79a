// Package proxy forwards authenticated gateway traffic to downstream
// services using a longest-prefix route table.
package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/logging"
)

// Route maps a path prefix onto an upstream base URL.
type Route struct {
	Prefix      string `json:"prefix"`
	Upstream    string `json:"upstream"`
	StripPrefix bool   `json:"stripPrefix,omitempty"`
}

type target struct {
	route Route
	proxy *httputil.ReverseProxy
}

// Router dispatches requests to the route with the longest matching prefix.
type Router struct {
	targets []target
	logger  logging.Logger
}

// NewRouter validates routes and builds one reverse proxy per upstream.
func NewRouter(routes []Route, logger logging.Logger) (*Router, error) {
	r := &Router{logger: logger.With("module", "proxy")}
	seen := make(map[string]struct{}, len(routes))

	for _, route := range routes {
		if !strings.HasPrefix(route.Prefix, "/") {
			return nil, fmt.Errorf("route %q: prefix must start with /", route.Prefix)
		}
		route.Prefix = normalizePrefix(route.Prefix)
		if _, ok := seen[route.Prefix]; ok {
			return nil, fmt.Errorf("route %q: duplicate prefix", route.Prefix)
		}
		seen[route.Prefix] = struct{}{}

		upstream, err := url.Parse(route.Upstream)
		if err != nil || upstream.Scheme == "" || upstream.Host == "" {
			return nil, fmt.Errorf("route %q: invalid upstream %q", route.Prefix, route.Upstream)
		}

		r.targets = append(r.targets, target{route: route, proxy: r.newProxy(route, upstream)})
	}

	sort.SliceStable(r.targets, func(i, j int) bool {
		return len(r.targets[i].route.Prefix) > len(r.targets[j].route.Prefix)
	})
	return r, nil
}

func (r *Router) newProxy(route Route, upstream *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if route.StripPrefix {
				stripPrefix(pr.Out.URL, route.Prefix)
			}
			pr.SetURL(upstream)
			pr.SetXForwarded()
			setIdentity(pr.Out.Header, pr.In)
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			r.logger.Warn(req.Context(), "upstream request failed",
				"upstream", upstream.Host, "path", req.URL.Path, "error", err)
			writeError(w, http.StatusBadGateway, "bad gateway")
		},
	}
}

// setIdentity writes the identity headers after hop-by-hop removal, so a
// client Connection header cannot drop them. Requests without an
// authenticated identity never carry them.
func setIdentity(h http.Header, in *http.Request) {
	for _, name := range common.IdentityHeaders {
		h.Del(name)
	}
	id, ok := authn.FromContext(in.Context())
	if !ok {
		return
	}
	h.Set(common.UserIDHeader, id.UserID)
	h.Set(common.UserEmailHeader, id.Email)
	h.Set(common.UserRoleHeader, id.Role)
	h.Set(common.UserNicknameHeader, id.Nickname)
}

// Match returns the route serving path.
func (r *Router) Match(path string) (Route, bool) {
	for _, t := range r.targets {
		if matches(t.route.Prefix, path) {
			return t.route, true
		}
	}
	return Route{}, false
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	for _, t := range r.targets {
		if matches(t.route.Prefix, req.URL.Path) {
			t.proxy.ServeHTTP(w, req)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no route")
}

// matches treats prefix as whole path segments, so /api matches /api and
// /api/x but not /apix.
func matches(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func normalizePrefix(p string) string {
	if p == "/" {
		return p
	}
	return strings.TrimRight(p, "/")
}

func stripPrefix(u *url.URL, prefix string) {
	if prefix == "/" {
		return
	}
	u.Path = strings.TrimPrefix(u.Path, prefix)
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawPath != "" {
		u.RawPath = strings.TrimPrefix(u.RawPath, prefix)
		if u.RawPath == "" {
			u.RawPath = "/"
		}
	}
}

// ParseRoutes reads "prefix=url" pairs, with an optional "!" before the
// prefix to strip it: "/api/users=http://users:8080,!/legacy=http://old".
func ParseRoutes(items []string) ([]Route, error) {
	routes := make([]Route, 0, len(items))
	for _, item := range items {
		prefix, upstream, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok || prefix == "" || upstream == "" {
			return nil, fmt.Errorf("route %q: want prefix=url", item)
		}
		route := Route{Prefix: prefix, Upstream: upstream}
		if p, ok := strings.CutPrefix(prefix, "!"); ok {
			route.Prefix, route.StripPrefix = p, true
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
