package sandbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// deriveCredentialKey derives an AES-256 key from the instance private key
// via SHA-256, keeping the on-disk credential cipher key distinct from the
// raw instance key used for the fingerprint and instance id.
func (s *Sandbox) deriveCredentialKey() [32]byte {
	return sha256.Sum256(append([]byte("moltpool-credential-key"), s.instanceKey...))
}

// WriteCredential AES-256-GCM seals plaintext under a key derived from the
// sandbox's instance key and writes it to credentials/<name>, mode 0600.
// The nonce is prepended to the ciphertext.
func (s *Sandbox) WriteCredential(name string, plaintext []byte) error {
	key := s.deriveCredentialKey()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("sandbox: credential cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("sandbox: credential gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("sandbox: credential nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	if err := os.WriteFile(s.CredentialPath(name), sealed, 0600); err != nil {
		return fmt.Errorf("sandbox: write credential %s: %w", name, err)
	}
	return nil
}

// ReadCredential reverses WriteCredential.
func (s *Sandbox) ReadCredential(name string) ([]byte, error) {
	sealed, err := os.ReadFile(s.CredentialPath(name))
	if err != nil {
		return nil, fmt.Errorf("sandbox: read credential %s: %w", name, err)
	}

	key := s.deriveCredentialKey()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("sandbox: credential cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sandbox: credential gcm: %w", err)
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sandbox: credential %s is truncated", name)
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("sandbox: decrypt credential %s: %w", name, err)
	}
	return plaintext, nil
}
