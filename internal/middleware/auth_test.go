package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestMiddlewareValidToken(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	var gotID int64
	called := false
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		id, ok := UserID(r)
		if !ok {
			t.Errorf("UserID not set on request context")
		}
		gotID = id
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", jwt.MapClaims{
		"user_id": float64(42),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !called {
		t.Fatalf("handler not called, status %d", rr.Code)
	}
	if gotID != 42 {
		t.Errorf("user id = %d, want 42", gotID)
	}
}

func TestMiddlewareRejections(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	h := auth.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Errorf("handler must not be called for a rejected request")
	}))

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"malformed header", "test-secret"},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", jwt.MapClaims{
			"user_id": float64(42),
			"exp":     time.Now().Add(time.Hour).Unix(),
		})},
		{"expired token", "Bearer " + signToken(t, "test-secret", jwt.MapClaims{
			"user_id": float64(42),
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})},
		{"missing user_id claim", "Bearer " + signToken(t, "test-secret", jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
	}

	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", tc.name, rr.Code)
		}
	}
}
