package ledger

import (
	"strings"
	"testing"
)

func TestGenerateToken_Length(t *testing.T) {
	token, err := generateToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(token) != 43 {
		t.Errorf("token length = %d, want 43", len(token))
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		token, err := generateToken()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token generated: %s", token)
		}
		seen[token] = true
	}
}

func TestGenerateToken_URLSafe(t *testing.T) {
	token, err := generateToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.ContainsAny(token, "+/=") {
		t.Errorf("token contains non-URL-safe characters: %s", token)
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	token := "abc123"
	h1 := hashToken(token)
	h2 := hashToken(token)
	if h1 != h2 {
		t.Errorf("hashToken not deterministic: %s != %s", h1, h2)
	}
}

func TestHashToken_DifferentInputsDifferentHashes(t *testing.T) {
	if hashToken("token-a") == hashToken("token-b") {
		t.Error("expected different tokens to hash differently")
	}
}

func TestHashToken_NeverEqualsPlaintext(t *testing.T) {
	token := "my-plaintext-token"
	if hashToken(token) == token {
		t.Error("hash must never equal plaintext")
	}
}
