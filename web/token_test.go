package web_test

import (
	"testing"
	"time"

	"postalgic/web"
)

const testSecret = "test-secret-key-for-jwt-testing-32chars"

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := web.NewTokens(testSecret)
	if err != nil {
		t.Fatalf("NewTokens failed: %v", err)
	}
	tok, err := tokens.Generate("laptop", time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	claims, err := tokens.Validate(tok)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Subject != "laptop" {
		t.Errorf("expected subject laptop, got %q", claims.Subject)
	}
}

func TestTokensRejects(t *testing.T) {
	tokens, _ := web.NewTokens(testSecret)
	other, _ := web.NewTokens("another-secret-key-that-is-32-chars-long")

	expired, _ := tokens.Generate("laptop", -time.Minute)
	foreign, _ := other.Generate("laptop", time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong key", foreign},
		{"garbage", "not.a.token"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tokens.Validate(tt.token); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}

func TestNewTokensShortSecret(t *testing.T) {
	if _, err := web.NewTokens("short"); err == nil {
		t.Error("expected error for a short secret")
	}
}
