// Package secrets encrypts stored cloud credentials with age.
package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/multicloud-portal/portal/internal/models"
)

var (
	// ErrDecryptionFailed is returned when decryption fails.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrEncryptionFailed is returned when encryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrInvalidKey is returned when a key is invalid.
	ErrInvalidKey = errors.New("invalid key format")
	// ErrKeyMismatch is returned when the configured public key does not belong to the private key.
	ErrKeyMismatch = errors.New("public key does not match private key")
)

const armorHeader = "-----BEGIN AGE ENCRYPTED FILE-----"

// Config holds the age key pair. When both are empty an ephemeral pair is
// generated, and stored credentials become unreadable after restart.
type Config struct {
	AgePublicKey  string
	AgePrivateKey string
}

// Cipher seals and opens credential secrets.
type Cipher struct {
	recipient *age.X25519Recipient
	identity  *age.X25519Identity
	logger    *slog.Logger
}

// NewCipher creates a Cipher from the configured keys.
func NewCipher(cfg *Config, logger *slog.Logger) (*Cipher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cipher{logger: logger}

	if cfg.AgePrivateKey == "" {
		if cfg.AgePublicKey != "" {
			return nil, fmt.Errorf("%w: private key is required to read stored credentials", ErrInvalidKey)
		}
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generating ephemeral key: %w", err)
		}
		logger.Warn("no credential encryption key configured, using an ephemeral key")
		c.identity = identity
		c.recipient = identity.Recipient()
		return c, nil
	}

	identity, err := age.ParseX25519Identity(cfg.AgePrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %v", ErrInvalidKey, err)
	}
	c.identity = identity
	c.recipient = identity.Recipient()

	if cfg.AgePublicKey != "" {
		recipient, err := age.ParseX25519Recipient(cfg.AgePublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid public key: %v", ErrInvalidKey, err)
		}
		if recipient.String() != c.recipient.String() {
			return nil, ErrKeyMismatch
		}
	}

	return c, nil
}

// Seal encrypts plaintext into an ASCII-armored age message.
func (c *Cipher) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)

	w, err := age.Encrypt(aw, c.recipient)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if err := aw.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return buf.String(), nil
}

// Open decrypts a message produced by Seal.
func (c *Cipher) Open(ciphertext string) (string, error) {
	r, err := age.Decrypt(armor.NewReader(strings.NewReader(ciphertext)), c.identity)
	if err != nil {
		c.logger.Debug("failed to decrypt credential", "error", err)
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether s looks like a Seal output.
func IsSealed(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), armorHeader)
}

// SealCredential returns a copy of cred with its secret encrypted.
func (c *Cipher) SealCredential(cred models.Credential) (models.Credential, error) {
	if cred.Secret == "" || IsSealed(cred.Secret) {
		return cred, nil
	}
	sealed, err := c.Seal(cred.Secret)
	if err != nil {
		return cred, err
	}
	cred.Secret = sealed
	return cred, nil
}

// OpenCredential returns a copy of cred with its secret decrypted.
func (c *Cipher) OpenCredential(cred models.Credential) (models.Credential, error) {
	if !IsSealed(cred.Secret) {
		return cred, nil
	}
	plain, err := c.Open(cred.Secret)
	if err != nil {
		return cred, err
	}
	cred.Secret = plain
	return cred, nil
}

// PublicKey returns the recipient string.
func (c *Cipher) PublicKey() string {
	return c.recipient.String()
}

// GenerateKeyPair generates a new age key pair.
func GenerateKeyPair() (publicKey, privateKey string, err error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate age key pair: %w", err)
	}
	return identity.Recipient().String(), identity.String(), nil
}
