package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/viora/downloader/internal/errors"
)

type LoginRequest struct {
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type Handlers struct {
	authService *Service
}

func NewHandlers(authService *Service) *Handlers {
	return &Handlers{authService: authService}
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}

	if req.Password == "" {
		return apperrors.ValidationError("password is required")
	}

	resp, err := h.authService.Login(req.Password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return apperrors.InvalidCredentials()
	case errors.Is(err, ErrAuthDisabled):
		return apperrors.Conflict("authentication is disabled on this server")
	case err != nil:
		return apperrors.InternalError("login failed").WithCause(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) error {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}

	if req.RefreshToken == "" {
		return apperrors.ValidationError("refresh token is required")
	}

	resp, err := h.authService.Refresh(req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired) {
			return apperrors.InvalidToken("invalid or expired refresh token")
		}
		return apperrors.InternalError("token refresh failed").WithCause(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) error {
	sess := GetSessionFromContext(r.Context())
	if sess == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	h.authService.Logout(sess.SessionID)
	w.WriteHeader(http.StatusNoContent)
	return nil
}
