package auth

import (
	"os"
	"testing"
	"time"
)

func testNow() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func TestEnvStore(t *testing.T) {
	t.Setenv("CHATLINK_TEST_ACCESS", " tok ")
	t.Setenv("CHATLINK_TEST_REFRESH", "ref")
	s := EnvStore{AccessVar: "CHATLINK_TEST_ACCESS", RefreshVar: "CHATLINK_TEST_REFRESH"}

	tok, err := s.Tokens()
	if err != nil {
		t.Fatalf("Tokens() error = %v", err)
	}
	if tok.Access != "tok" || tok.Refresh != "ref" {
		t.Errorf("Tokens() = %+v", tok)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok := os.LookupEnv("CHATLINK_TEST_ACCESS"); ok {
		t.Error("access variable still set")
	}
}
