package httpserver

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/server/services"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type oauthLoginRequest struct {
	Provider    string `json:"provider"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// LoginResponse is returned by every endpoint that issues a token pair.
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	Nickname     string `json:"nickname"`
}

// IdentityResponse is returned by GET /auth/validate.
type IdentityResponse struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Nickname string `json:"nickname"`
}

func loginResponse(p *services.TokenPair) LoginResponse {
	return LoginResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.ExpiresIn.Seconds()),
		UserID:       p.Identity.UserID,
		Email:        p.Identity.Email,
		Role:         p.Identity.Role,
		Nickname:     p.Identity.Nickname,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	pair, err := s.credentials.Register(r.Context(), req.Email, req.Password, req.Nickname, sessionMeta(r))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	s.logger.Info(r.Context(), "Registered", "user_id", pair.Identity.UserID)
	respondJSON(w, http.StatusCreated, loginResponse(pair))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		s.writeError(r.Context(), w, common.ErrInvalidInput)
		return
	}

	pair, err := s.credentials.Login(r.Context(), req.Email, req.Password, sessionMeta(r))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse(pair))
}

func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req oauthLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	provider, ok := s.providers.Get(req.Provider)
	if !ok {
		s.writeError(r.Context(), w, common.ErrInvalidInput)
		return
	}

	ext, err := provider.Exchange(r.Context(), req.Code, req.RedirectURI)
	if err != nil {
		s.logger.Info(r.Context(), "oauth exchange failed", "provider", req.Provider, "error", err)
		s.writeError(r.Context(), w, err)
		return
	}

	pair, err := s.credentials.LoginExternal(r.Context(), *ext, sessionMeta(r))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse(pair))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if req.RefreshToken == "" {
		s.writeError(r.Context(), w, common.ErrInvalidInput)
		return
	}

	pair, err := s.tokens.Refresh(r.Context(), req.RefreshToken, sessionMeta(r))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse(pair))
}

// handleLogout revokes the caller's refresh token given in the body, or every
// refresh token of the caller when the body is empty.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity, _ := authn.FromContext(r.Context())

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.writeError(r.Context(), w, err)
		return
	}

	var err error
	if req.RefreshToken != "" {
		err = s.tokens.RevokeOwned(r.Context(), identity.UserID, req.RefreshToken)
	} else {
		err = s.tokens.RevokeAll(r.Context(), identity.UserID)
	}
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	identity, _ := authn.FromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	pair, err := s.credentials.ChangePassword(r.Context(), identity.UserID, req.CurrentPassword, req.NewPassword, sessionMeta(r))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse(pair))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	identity, _ := authn.FromContext(r.Context())
	respondJSON(w, http.StatusOK, IdentityResponse{
		UserID:   identity.UserID,
		Email:    identity.Email,
		Role:     identity.Role,
		Nickname: identity.Nickname,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn(r.Context(), "not ready", "error", err)
			respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "not ready"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
