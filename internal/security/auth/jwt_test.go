package auth

import (
	"testing"
	"time"
)

func TestTokenRoundtrip(t *testing.T) {
	tm := NewTokenManager("test-secret", "tenantfleet")

	token, err := tm.GenerateToken("billing-provider", "billing", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := tm.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "billing-provider" || claims.Role != "billing" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.Issuer != "tenantfleet" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
}

func TestTokenWrongSecretRejected(t *testing.T) {
	token, err := NewTokenManager("secret-a", "tenantfleet").GenerateToken("op", "operator", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenManager("secret-b", "tenantfleet").ValidateToken(token); err == nil {
		t.Fatal("token signed with a different secret must be rejected")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	tm := NewTokenManager("test-secret", "tenantfleet")
	token, err := tm.GenerateToken("op", "operator", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tm.ValidateToken(token); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestGenerateTokenRequiresSubjectAndRole(t *testing.T) {
	tm := NewTokenManager("test-secret", "tenantfleet")
	if _, err := tm.GenerateToken("", "operator", time.Hour); err == nil {
		t.Fatal("empty subject must be rejected")
	}
	if _, err := tm.GenerateToken("op", "", time.Hour); err == nil {
		t.Fatal("empty role must be rejected")
	}
}

func TestExtractToken(t *testing.T) {
	if tok, err := ExtractToken("Bearer abc.def.ghi"); err != nil || tok != "abc.def.ghi" {
		t.Fatalf("tok = %q, err = %v", tok, err)
	}
	for _, header := range []string{"", "abc", "Basic abc", "Bearer a b"} {
		if _, err := ExtractToken(header); err == nil {
			t.Errorf("header %q should be rejected", header)
		}
	}
}
