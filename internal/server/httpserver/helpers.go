package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/netx"
	"github.com/dmitrijs2005/authgate/internal/server/models"
)

const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("request body required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("%w: %w", common.ErrInvalidInput, err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps a service error to its HTTP status and public message.
// Credential and token failures share one message so callers cannot tell
// them apart.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, errEmptyBody):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, common.ErrDuplicateEmail):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrRefreshTokenInvalid),
		errors.Is(err, common.ErrRefreshTokenExpired),
		errors.Is(err, common.ErrTokenMalformed),
		errors.Is(err, common.ErrTokenSignatureInvalid),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, common.ErrAccountDisabled):
		return http.StatusForbidden, "account disabled"
	case errors.Is(err, common.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		s.logger.Warn(ctx, "store unavailable", "error", err)
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", "Bearer")
	case http.StatusInternalServerError:
		s.logger.Error(ctx, "request failed", "error", err)
	}
	respondJSON(w, status, errorResponse{Error: msg})
}

// sessionMeta records where a request came from. RemoteAddr has already
// been rewritten by middleware.RealIP.
func sessionMeta(r *http.Request) models.SessionMeta {
	return models.SessionMeta{IPAddress: netx.ClientIP(r), UserAgent: r.UserAgent()}
}
