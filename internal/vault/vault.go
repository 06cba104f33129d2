// Package vault encrypts credential fields with AES-256-GCM before they reach storage.
//
// Sealed values are base64(nonce || tag || ciphertext), with a 12-byte nonce
// and a 16-byte tag. The key is the SHA-256 digest of the application secret.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/mtlprog/agentdeploy/internal/domain"
)

const (
	nonceSize = 12
	tagSize   = 16

	// MinSecretLength is the shortest application secret accepted.
	MinSecretLength = 16
)

// Vault seals and opens credential strings.
type Vault struct {
	aead cipher.AEAD
}

// New derives the vault key from the application secret.
func New(appSecret string) (*Vault, error) {
	if len(appSecret) < MinSecretLength {
		return nil, fmt.Errorf("app secret must be at least %d characters", MinSecretLength)
	}

	key := sha256.Sum256([]byte(appSecret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	// GCM appends the tag to the ciphertext; the stored layout puts it first.
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	payload := make([]byte, 0, nonceSize+len(sealed))
	payload = append(payload, nonce...)
	payload = append(payload, tag...)
	payload = append(payload, ct...)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens a value produced by Encrypt. Any tampering fails with domain.ErrDecrypt.
func (v *Vault) Decrypt(sealed string) (string, error) {
	payload, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", domain.ErrDecrypt, err)
	}
	if len(payload) < nonceSize+tagSize {
		return "", fmt.Errorf("%w: %w", domain.ErrDecrypt, errShortPayload)
	}

	nonce := payload[:nonceSize]
	tag := payload[nonceSize : nonceSize+tagSize]
	ct := payload[nonceSize+tagSize:]

	buf := make([]byte, 0, len(ct)+tagSize)
	buf = append(buf, ct...)
	buf = append(buf, tag...)

	plaintext, err := v.aead.Open(nil, nonce, buf, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// EncryptOptional seals a value that may be absent.
func (v *Vault) EncryptOptional(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}
	sealed, err := v.Encrypt(*plaintext)
	if err != nil {
		return nil, err
	}
	return &sealed, nil
}

// DecryptOptional opens a value that may be absent.
func (v *Vault) DecryptOptional(sealed *string) (*string, error) {
	if sealed == nil {
		return nil, nil
	}
	plaintext, err := v.Decrypt(*sealed)
	if err != nil {
		return nil, err
	}
	return &plaintext, nil
}

var errShortPayload = errors.New("sealed value is too short")
