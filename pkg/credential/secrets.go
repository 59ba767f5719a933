package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// boxVersion identifies the at-rest envelope layout produced by seal, so
// a future format change (different AEAD, different key derivation) can
// be distinguished from the one currently in use instead of silently
// misparsed.
const boxVersion byte = 1

// cipherBox holds the AES-256-GCM key used to encrypt credential secrets
// at rest in the file plugin's backing store. Every sealed entry is
// versioned and bound via AEAD additional data to the credential-id it
// belongs to, so swapping one credential's ciphertext onto another
// entry's id fails to decrypt rather than silently succeeding.
type cipherBox struct {
	key []byte // 32 bytes for AES-256
}

// newCipherBox builds a cipherBox from a raw 32-byte key.
func newCipherBox(key []byte) (*cipherBox, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &cipherBox{key: key}, nil
}

// newCipherBoxFromPassphrase derives a 32-byte key from an operator-
// supplied passphrase via SHA-256, for deployments that configure the
// file plugin with a passphrase rather than a raw key file.
func newCipherBoxFromPassphrase(passphrase string) (*cipherBox, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	sum := sha256.Sum256([]byte(passphrase))
	return newCipherBox(sum[:])
}

// seal encrypts plaintext for storage under credentialID, returning a
// versioned envelope with the nonce prepended. credentialID is bound in
// as AEAD additional data, not encrypted, so the envelope only decrypts
// back out under the same id it was sealed for.
func (c *cipherBox) seal(credentialID string, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}
	gcm, err := c.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, boxVersion)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, []byte(credentialID)), nil
}

// open decrypts an envelope produced by seal, verifying it was sealed
// for credentialID.
func (c *cipherBox) open(credentialID string, envelope []byte) ([]byte, error) {
	if len(envelope) < 1 {
		return nil, fmt.Errorf("cannot decrypt empty data")
	}
	if envelope[0] != boxVersion {
		return nil, fmt.Errorf("unsupported cipherBox version %d", envelope[0])
	}
	gcm, err := c.aead()
	if err != nil {
		return nil, err
	}
	body := envelope[1:]
	nonceSize := gcm.NonceSize()
	if len(body) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := body[:nonceSize], body[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(credentialID))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func (c *cipherBox) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
