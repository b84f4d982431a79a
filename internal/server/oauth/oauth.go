// Package oauth exchanges authorization codes with external identity
// providers and reports who the user is.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Provider is one external identity provider.
type Provider interface {
	Name() string
	// Exchange redeems code and returns the asserted identity. Any failure,
	// including an unverified email, is reported as common.ErrInvalidCredentials.
	Exchange(ctx context.Context, code, redirectURI string) (*models.ExternalIdentity, error)
}

// Registry looks providers up by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry indexes providers by name.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[name]
	return p, ok
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

const (
	GoogleName        = "google"
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// GoogleProvider implements Provider for Google sign-in.
type GoogleProvider struct {
	config      oauth2.Config
	userInfoURL string
}

// GoogleOption customizes a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithEndpoints points the provider at other token and userinfo URLs.
func WithEndpoints(endpoint oauth2.Endpoint, userInfoURL string) GoogleOption {
	return func(p *GoogleProvider) {
		p.config.Endpoint = endpoint
		p.userInfoURL = userInfoURL
	}
}

// NewGoogleProvider builds a Google provider for the given OAuth client.
func NewGoogleProvider(clientID, clientSecret string, opts ...GoogleOption) *GoogleProvider {
	p := &GoogleProvider{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *GoogleProvider) Name() string { return GoogleName }

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func (p *GoogleProvider) Exchange(ctx context.Context, code, redirectURI string) (*models.ExternalIdentity, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", common.ErrInvalidCredentials)
	}
	cfg := p.config
	cfg.RedirectURL = redirectURI

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange code: %w", common.ErrInvalidCredentials, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}
	resp, err := cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch userinfo: %w", common.ErrInvalidCredentials, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo status %d", common.ErrInvalidCredentials, resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode userinfo: %w", common.ErrInvalidCredentials, err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: userinfo without subject", common.ErrInvalidCredentials)
	}
	if !info.EmailVerified {
		return nil, fmt.Errorf("%w: email not verified", common.ErrInvalidCredentials)
	}

	return &models.ExternalIdentity{
		Provider:      GoogleName,
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
	}, nil
}
