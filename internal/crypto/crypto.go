// Package crypto seals OAuth tokens at rest and verifies webhook signatures.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Vault encrypts and decrypts token material with AES-256-GCM.
// The key is injected once at construction; call sites never see it.
type Vault struct {
	key []byte
}

// NewVault creates a Vault from a hex-encoded 32-byte key.
func NewVault(keyHex string) (*Vault, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex key: %w", err)
	}
	if len(key) != 32 { // AES-256 requires a 32-byte key
		return nil, errors.New("invalid key length: must be 32 bytes for AES-256")
	}
	return &Vault{key: key}, nil
}

// Seal encrypts plaintext and returns base64(nonce + ciphertext + tag).
func (v *Vault) Seal(plainText string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher block: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	// Random nonce, GCM standard size is 12 bytes. Prepended to the ciphertext.
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	cipherText := gcm.Seal(nil, nonce, []byte(plainText), nil)

	return base64.StdEncoding.EncodeToString(append(nonce, cipherText...)), nil
}

// Open decrypts base64(nonce + ciphertext + tag) back to plaintext.
func (v *Vault) Open(cipherTextBase64 string) (string, error) {
	nonceAndCiphertext, err := base64.StdEncoding.DecodeString(cipherTextBase64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 ciphertext: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher block: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(nonceAndCiphertext) < nonceSize {
		return "", errors.New("ciphertext too short to contain nonce")
	}

	nonce, actualCiphertext := nonceAndCiphertext[:nonceSize], nonceAndCiphertext[nonceSize:]

	plainTextBytes, err := gcm.Open(nil, nonce, actualCiphertext, nil)
	if err != nil {
		// "cipher: message authentication failed" here means wrong key or tampered data
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plainTextBytes), nil
}

// VerifyHMACSHA256 reports whether hexSig is the hex HMAC-SHA256 of payload
// under secret. Comparison is constant time.
func VerifyHMACSHA256(secret string, payload []byte, hexSig string) bool {
	sig, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), sig)
}

// VerifyHMACSHA1 reports whether b64Sig is the base64 HMAC-SHA1 of payload
// under secret. Fitbit signs subscriber notifications this way.
func VerifyHMACSHA1(secret string, payload []byte, b64Sig string) bool {
	sig, err := base64.StdEncoding.DecodeString(b64Sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), sig)
}

// NewStateToken generates a random hex token for the OAuth state parameter.
func NewStateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes for token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken hashes a plain token string using SHA256 and returns the
// hex-encoded hash. Used to derive surrogate external user ids for providers
// without a profile endpoint.
func HashToken(plainToken string) string {
	sum := sha256.Sum256([]byte(plainToken))
	return hex.EncodeToString(sum[:])
}
