package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/haasonsaas/chatlink/internal/auth"
)

func TestErrorFormatting(t *testing.T) {
	base := errors.New("dial tcp: refused")
	err := ErrConnection("failed to open push channel", base)
	if got := err.Error(); got != "[CONNECTION_ERROR] failed to open push channel: dial tcp: refused" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, base) {
		t.Error("errors.Is should see the wrapped cause")
	}
	if !err.IsRetryable() {
		t.Error("connection errors are retryable")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if GetErrorCode(wrapped) != ErrCodeConnection {
		t.Errorf("GetErrorCode() = %s", GetErrorCode(wrapped))
	}
	if GetErrorCode(base) != ErrCodeInternal {
		t.Error("plain errors should map to internal")
	}
}

func TestFromOutcome(t *testing.T) {
	tests := []struct {
		code   int
		want   ErrorCode
		isAuth bool
	}{
		{4001, ErrCodeSessionExpired, true},
		{4002, ErrCodeAccessDenied, true},
		{4003, ErrCodeForbidden, true},
		{4400, ErrCodeAuthentication, true},
		{4029, ErrCodeRateLimit, false},
		{1006, ErrCodeConnection, false},
	}
	for _, tt := range tests {
		e := FromOutcome(auth.InterpretClose(tt.code, "why"))
		if e.Code != tt.want {
			t.Errorf("code %d: Code = %s, want %s", tt.code, e.Code, tt.want)
		}
		if e.IsAuth() != tt.isAuth {
			t.Errorf("code %d: IsAuth = %v", tt.code, e.IsAuth())
		}
		if e.Context["close_code"] != tt.code || e.Context["reason"] != "why" {
			t.Errorf("code %d: context = %v", tt.code, e.Context)
		}
	}
}
