package secretbox

import (
	"strings"
	"testing"
)

func newTestBox(t *testing.T, secret string) *Box {
	t.Helper()
	b, err := NewWithCost(secret, 1<<10)
	if err != nil {
		t.Fatalf("NewWithCost: %v", err)
	}
	return b
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	b := newTestBox(t, "test-secret")

	sealed, err := b.Encrypt("09171234567")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(sealed, "09171234567") {
		t.Fatalf("ciphertext leaks plaintext: %s", sealed)
	}
	if got := strings.Count(sealed, ":"); got != 2 {
		t.Fatalf("expected salt:nonce:sealed format, got %q", sealed)
	}

	plain, err := b.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "09171234567" {
		t.Fatalf("expected round trip, got %q", plain)
	}
}

func TestEncrypt_UsesFreshSaltPerValue(t *testing.T) {
	b := newTestBox(t, "test-secret")

	first, _ := b.Encrypt("same")
	second, _ := b.Encrypt("same")
	if first == second {
		t.Fatal("expected distinct ciphertexts for the same plaintext")
	}
}

func TestDecrypt_WrongSecretFails(t *testing.T) {
	sealed, err := newTestBox(t, "secret-a").Encrypt("1234567890")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := newTestBox(t, "secret-b").Decrypt(sealed); err == nil {
		t.Fatal("expected decrypt with another secret to fail")
	}
}

func TestDecrypt_RejectsMalformedInput(t *testing.T) {
	b := newTestBox(t, "test-secret")
	for _, in := range []string{"", "abc", "zz:zz:zz", "00:11"} {
		if _, err := b.Decrypt(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestNew_RejectsEmptySecret(t *testing.T) {
	if _, err := New("  "); err != ErrEmptySecret {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}
