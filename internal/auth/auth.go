// Package auth protects the control plane with a single operator password
// exchanged for short-lived JWT access tokens and rotating refresh tokens.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	AccessTokenExpiry  = 15 * time.Minute
	RefreshTokenExpiry = 7 * 24 * time.Hour
	BcryptCost         = 12

	issuer   = "viora-downloader"
	operator = "operator"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrAuthDisabled       = errors.New("authentication is not configured")
)

type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

type refreshToken struct {
	sessionID uuid.UUID
	expiresAt time.Time
}

// Service issues and validates tokens. Refresh tokens are kept in memory by
// hash, so a restart signs every session out.
type Service struct {
	passwordHash []byte
	jwtSecret    []byte
	now          func() time.Time

	mu      sync.Mutex
	refresh map[string]refreshToken
}

// NewService hashes password with bcrypt. An empty password disables login.
func NewService(password, jwtSecret string) (*Service, error) {
	s := &Service{
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
		refresh:   make(map[string]refreshToken),
	}
	if password == "" {
		return s, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return nil, err
	}
	s.passwordHash = hash
	return s, nil
}

// Enabled reports whether a password is configured.
func (s *Service) Enabled() bool {
	return len(s.passwordHash) > 0
}

func (s *Service) Login(password string) (*AuthResponse, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.generateTokens(uuid.New())
}

// Refresh exchanges a refresh token for a new token pair. The old refresh
// token is revoked.
func (s *Service) Refresh(token string) (*AuthResponse, error) {
	tokenHash := hashToken(token)

	s.mu.Lock()
	stored, ok := s.refresh[tokenHash]
	delete(s.refresh, tokenHash)
	s.mu.Unlock()

	if !ok {
		return nil, ErrInvalidToken
	}
	if s.now().After(stored.expiresAt) {
		return nil, ErrTokenExpired
	}
	return s.generateTokens(stored.sessionID)
}

// Logout revokes every refresh token of the session.
func (s *Service) Logout(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, t := range s.refresh {
		if t.sessionID == sessionID {
			delete(s.refresh, h)
		}
	}
}

func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.SessionID); err != nil {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *Service) generateTokens(sessionID uuid.UUID) (*AuthResponse, error) {
	accessToken, err := s.generateAccessToken(sessionID)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.generateRefreshToken(sessionID)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(AccessTokenExpiry.Seconds()),
	}, nil
}

func (s *Service) generateAccessToken(sessionID uuid.UUID) (string, error) {
	now := s.now()
	claims := &Claims{
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Service) generateRefreshToken(sessionID uuid.UUID) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	tokenString := hex.EncodeToString(tokenBytes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[hashToken(tokenString)] = refreshToken{
		sessionID: sessionID,
		expiresAt: s.now().Add(RefreshTokenExpiry),
	}
	return tokenString, nil
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
