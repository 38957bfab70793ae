package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/viora/downloader/internal/errors"
)

type contextKey string

const SessionContextKey contextKey = "session"

type SessionContext struct {
	SessionID uuid.UUID
	Subject   string
}

// Middleware requires a valid bearer token. When the service has no
// password configured every request passes through.
func Middleware(authService *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authService.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			requestID := apperrors.GetRequestID(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("invalid authorization header format"))
				return
			}

			sess, err := authService.Authenticate(parts[1])
			if err != nil {
				apperrors.WriteError(w, requestID, TokenError(err))
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate validates an access token and returns its session.
func (s *Service) Authenticate(token string) (*SessionContext, error) {
	claims, err := s.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	sid, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &SessionContext{SessionID: sid, Subject: claims.Subject}, nil
}

// TokenError maps a token validation failure to its API error.
func TokenError(err error) *apperrors.AppError {
	if errors.Is(err, ErrTokenExpired) {
		return apperrors.TokenExpired()
	}
	return apperrors.InvalidToken("invalid access token")
}

func GetSessionFromContext(ctx context.Context) *SessionContext {
	sess, ok := ctx.Value(SessionContextKey).(*SessionContext)
	if !ok {
		return nil
	}
	return sess
}
