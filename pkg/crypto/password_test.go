package crypto

import (
	"strings"
	"testing"
)

func TestComparePassword(t *testing.T) {
	hash, err := HashPassword("open sesame")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := ComparePassword(hash, "open sesame"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := ComparePassword(hash, "open sesame "); err == nil {
		t.Fatal("expected mismatch for trailing space")
	}
	if err := ComparePassword(nil, "open sesame"); err == nil {
		t.Fatal("expected mismatch for empty hash")
	}
}

func TestHashPasswordLongMultibyte(t *testing.T) {
	secret := strings.Repeat("密", 32)
	hash, err := HashPassword(secret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := ComparePassword(hash, strings.Repeat("密", 31)+"码"); err == nil {
		t.Fatal("expected mismatch on last rune")
	}
}
