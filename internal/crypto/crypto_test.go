package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestVault_SealOpen_RoundTrip(t *testing.T) {
	vault, err := NewVault(testKeyHex)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	tests := []struct {
		name  string
		plain string
	}{
		{"access token", "ya29.a0AfH6SMBx7-long-opaque-token"},
		{"empty string", ""},
		{"unicode", "tøken-ünïcode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := vault.Seal(tt.plain)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			if sealed == tt.plain && tt.plain != "" {
				t.Fatal("sealed value equals plaintext")
			}

			opened, err := vault.Open(sealed)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if opened != tt.plain {
				t.Errorf("expected %q, got %q", tt.plain, opened)
			}
		})
	}
}

func TestVault_Seal_NonceVaries(t *testing.T) {
	vault, _ := NewVault(testKeyHex)

	a, _ := vault.Seal("same-token")
	b, _ := vault.Seal("same-token")
	if a == b {
		t.Error("two seals of the same plaintext produced identical ciphertext")
	}
}

func TestVault_Open_WrongKey(t *testing.T) {
	vault, _ := NewVault(testKeyHex)
	sealed, _ := vault.Seal("secret-token")

	otherKey := strings.Repeat("ab", 32)
	other, err := NewVault(otherKey)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, err := other.Open(sealed); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
}

func TestNewVault_InvalidKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not hex", "zz"},
		{"too short", "abcd"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewVault(tt.key); err == nil {
				t.Error("expected error for invalid key, got nil")
			}
		})
	}
}

func TestVerifyHMACSHA256(t *testing.T) {
	secret := "terra-signing-secret"
	payload := []byte(`{"type":"body","user":{"user_id":"u1"}}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	goodSig := hex.EncodeToString(mac.Sum(nil))

	if !VerifyHMACSHA256(secret, payload, goodSig) {
		t.Fatal("expected valid signature to verify")
	}

	// Single-byte mutation of the payload must fail
	mutated := append([]byte{}, payload...)
	mutated[0] ^= 0x01
	if VerifyHMACSHA256(secret, mutated, goodSig) {
		t.Error("mutated payload verified")
	}

	// Single-byte mutation of the signature must fail
	badSig := []byte(goodSig)
	if badSig[0] == 'a' {
		badSig[0] = 'b'
	} else {
		badSig[0] = 'a'
	}
	if VerifyHMACSHA256(secret, payload, string(badSig)) {
		t.Error("mutated signature verified")
	}

	if VerifyHMACSHA256(secret, payload, "not-hex!") {
		t.Error("malformed signature verified")
	}
	if VerifyHMACSHA256("other-secret", payload, goodSig) {
		t.Error("signature verified under wrong secret")
	}
}

func TestVerifyHMACSHA1(t *testing.T) {
	secret := "client-secret&"
	payload := []byte(`[{"collectionType":"activities","ownerId":"USER1"}]`)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(payload)
	goodSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !VerifyHMACSHA1(secret, payload, goodSig) {
		t.Fatal("expected valid signature to verify")
	}

	mutated := append([]byte{}, payload...)
	mutated[len(mutated)-1] ^= 0x01
	if VerifyHMACSHA1(secret, mutated, goodSig) {
		t.Error("mutated payload verified")
	}

	if VerifyHMACSHA1(secret, payload, "%%%not-base64") {
		t.Error("malformed signature verified")
	}
}

func TestNewStateToken(t *testing.T) {
	a, err := NewStateToken()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}

	b, _ := NewStateToken()
	if a == b {
		t.Error("two state tokens are identical")
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	a := HashToken("access-token-1")
	b := HashToken("access-token-1")
	c := HashToken("access-token-2")

	if a != b {
		t.Error("same input produced different hashes")
	}
	if a == c {
		t.Error("different inputs produced the same hash")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
