package security

import (
	"encoding/base64"
	"testing"
)

func TestNewRefreshTokenSecretEntropy(t *testing.T) {
	a, err := NewRefreshTokenSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := NewRefreshTokenSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct secrets")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) < 64 {
		t.Fatalf("expected at least 64 bytes, got %d", len(raw))
	}
}

func TestHashRefreshTokenDependsOnPepper(t *testing.T) {
	h1 := HashRefreshToken("secret", "pepper-1")
	h2 := HashRefreshToken("secret", "pepper-2")
	if h1 == h2 {
		t.Fatal("expected pepper to change the hash")
	}
	if !RefreshTokenHashEqual(h1, HashRefreshToken("secret", "pepper-1")) {
		t.Fatal("expected hashing to be deterministic")
	}
	if h1 == "secret" {
		t.Fatal("hash must not equal plaintext")
	}
}
