package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/crucibleproj/crucible/internal/scope"
)

func TestTokenRoundTrip(t *testing.T) {
	a, err := NewAuthenticator([]byte("test-secret"), time.Minute)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	sc, err := scope.New("org", "camp", "proj")
	if err != nil {
		t.Fatal(err)
	}
	wild, err := scope.NewPattern("other_org", "", "")
	if err != nil {
		t.Fatal(err)
	}

	token, err := a.CreateToken("alice", []scope.Scope{sc, wild})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	claims, err := a.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q, want alice", claims.Subject)
	}
	want := []string{"org-camp-proj", "other_org-*-*"}
	if len(claims.Scopes) != len(want) {
		t.Fatalf("scopes = %v, want %v", claims.Scopes, want)
	}
	for i := range want {
		if claims.Scopes[i] != want[i] {
			t.Errorf("scopes[%d] = %q, want %q", i, claims.Scopes[i], want[i])
		}
	}
}

func TestExpiryDefault(t *testing.T) {
	a, err := NewAuthenticator([]byte("test-secret"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if a.Expiry() != 30*time.Minute {
		t.Errorf("default expiry = %v, want 30m", a.Expiry())
	}
	if _, err := NewAuthenticator(nil, time.Minute); err == nil {
		t.Error("empty secret accepted")
	}
}

func TestRejectedTokens(t *testing.T) {
	issuer, err := NewAuthenticator([]byte("secret-a"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := NewAuthenticator([]byte("secret-b"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	token, err := issuer.CreateToken("alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.ValidateToken(token); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("wrong-secret validation error = %v, want ErrInvalidCredential", err)
	}
	if _, err := issuer.ValidateToken(token + "x"); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("tampered-token validation error = %v, want ErrInvalidCredential", err)
	}
}

func TestKeyHashing(t *testing.T) {
	hash, err := HashKey("hunter2")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("hash equals plaintext")
	}
	if err := VerifyKey(hash, "hunter2"); err != nil {
		t.Errorf("VerifyKey correct key: %v", err)
	}
	if err := VerifyKey(hash, "wrong"); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("VerifyKey wrong key = %v, want ErrInvalidCredential", err)
	}
}
