package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/viora/downloader/internal/errors"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService("hunter22", "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLogin(t *testing.T) {
	s := newTestService(t)

	if _, err := s.Login("wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v", err)
	}

	resp, err := s.Login("hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.ExpiresIn != int(AccessTokenExpiry.Seconds()) {
		t.Errorf("ExpiresIn = %d", resp.ExpiresIn)
	}

	claims, err := s.ValidateAccessToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.Subject != operator || claims.SessionID == "" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestLogin_Disabled(t *testing.T) {
	s, err := NewService("", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if s.Enabled() {
		t.Error("empty password should disable auth")
	}
	if _, err := s.Login(""); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("err = %v", err)
	}
}

func TestRefresh_Rotates(t *testing.T) {
	s := newTestService(t)
	first, err := s.Login("hunter22")
	if err != nil {
		t.Fatal(err)
	}

	second, err := s.Refresh(first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := s.Refresh(first.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("reused refresh token err = %v, want ErrInvalidToken", err)
	}

	a, _ := s.ValidateAccessToken(first.AccessToken)
	b, _ := s.ValidateAccessToken(second.AccessToken)
	if a.SessionID != b.SessionID {
		t.Error("refresh should keep the session")
	}
}

func TestRefresh_Expired(t *testing.T) {
	s := newTestService(t)
	resp, err := s.Login("hunter22")
	if err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return time.Now().Add(RefreshTokenExpiry + time.Hour) }
	if _, err := s.Refresh(resp.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
	if _, err := s.ValidateAccessToken(resp.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("access token err = %v, want ErrTokenExpired", err)
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	s := newTestService(t)
	resp, _ := s.Login("hunter22")
	sess, err := s.Authenticate(resp.AccessToken)
	if err != nil {
		t.Fatal(err)
	}

	s.Logout(sess.SessionID)
	if _, err := s.Refresh(resp.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refresh after logout err = %v", err)
	}
}

func TestValidateAccessToken_Rejects(t *testing.T) {
	s := newTestService(t)

	other, _ := NewService("x", "other-secret")
	foreign, _ := other.generateAccessToken([16]byte{1})

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{SessionID: "00000000-0000-0000-0000-000000000001"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{"garbage": "abc", "foreign secret": foreign, "alg none": unsigned} {
		if _, err := s.ValidateAccessToken(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestMiddleware(t *testing.T) {
	s := newTestService(t)
	resp, _ := s.Login("hunter22")

	var seen *SessionContext
	h := Middleware(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetSessionFromContext(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"missing header", "", http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"bad token", "Bearer abc", http.StatusUnauthorized, apperrors.CodeInvalidToken},
		{"valid", "Bearer " + resp.AccessToken, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				var body apperrors.ErrorResponse
				json.NewDecoder(rec.Body).Decode(&body)
				if body.Error.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
				}
				return
			}
			if seen == nil || seen.Subject != operator {
				t.Errorf("session not in context: %+v", seen)
			}
		})
	}
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	s, _ := NewService("", "secret")
	called := false
	h := Middleware(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("disabled auth should not block requests")
	}
}

func TestHandlers_Login(t *testing.T) {
	s := newTestService(t)
	h := apperrors.HandleFunc(NewHandlers(s).Login)

	tests := []struct {
		body       string
		wantStatus int
	}{
		{`{"password":"hunter22"}`, http.StatusOK},
		{`{"password":"nope"}`, http.StatusUnauthorized},
		{`{"password":""}`, http.StatusBadRequest},
		{`{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body)))
		if rec.Code != tt.wantStatus {
			t.Errorf("body %s: status = %d, want %d", tt.body, rec.Code, tt.wantStatus)
		}
	}
}
