package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := Claims{
		UserID: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	claims, err := ParseClaims(signToken(t, exp))
	if err != nil {
		t.Fatalf("ParseClaims() error = %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("UserID = %q", claims.UserID)
	}
	if !claims.ExpiresAt.Time.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, exp)
	}
}

func TestParseClaimsOpaque(t *testing.T) {
	if _, err := ParseClaims("opaque-session-token"); err == nil {
		t.Error("expected error for opaque credential")
	}
	if _, ok := TokenExpiry("opaque-session-token"); ok {
		t.Error("opaque credential should have no expiry")
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"future", signToken(t, now.Add(time.Hour)), false},
		{"past", signToken(t, now.Add(-time.Hour)), true},
		{"opaque", "abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expired(tt.token, now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
