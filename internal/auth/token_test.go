package auth

import (
	"testing"
	"time"

	"github.com/nullvalue11/book8-core-api/internal/config"
)

func TestIssueAndVerifyServiceToken(t *testing.T) {
	m, err := NewManager(config.InternalAuthConfig{
		Secret:   "secret",
		Issuer:   "book8",
		Audience: "core-api",
		TokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.Issue(now, "voice-orchestrator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok == "" {
		t.Fatalf("expected token string")
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Service != "voice-orchestrator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, _ := NewManager(config.InternalAuthConfig{Secret: "secret", TokenTTL: time.Minute})
	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.Issue(now, "voice-orchestrator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, now.Add(2*time.Hour)); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewManager(config.InternalAuthConfig{Secret: "secret-a", TokenTTL: time.Hour})
	verifier, _ := NewManager(config.InternalAuthConfig{Secret: "secret-b", TokenTTL: time.Hour})

	now := time.Unix(1700000000, 0).UTC()
	tok, err := issuer.Issue(now, "voice-orchestrator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(tok, now); err == nil {
		t.Fatalf("expected signature error")
	}
}
