package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
)

// MinCodeBytes is the smallest amount of entropy accepted for an invitation code.
const MinCodeBytes = 16

var ErrShortCode = errors.New("invitation code must carry at least 16 random bytes")

// Encryptor seals follow-up notes at rest with an age X25519 identity.
type Encryptor struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewEncryptor parses an AGE-SECRET-KEY identity. An empty key generates an
// ephemeral identity, which is only useful in development and tests.
func NewEncryptor(key string) (*Encryptor, error) {
	var (
		identity *age.X25519Identity
		err      error
	)

	if key == "" {
		identity, err = age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generating identity: %w", err)
		}
	} else {
		identity, err = age.ParseX25519Identity(key)
		if err != nil {
			return nil, fmt.Errorf("parsing identity: %w", err)
		}
	}

	return &Encryptor{identity: identity, recipient: identity.Recipient()}, nil
}

// GenerateKey returns a fresh identity suitable for ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating identity: %w", err)
	}
	return identity.String(), nil
}

func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := age.Encrypt(&buf, e.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing encryptor: %w", err)
	}

	return buf.Bytes(), nil
}

func (e *Encryptor) Open(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identity)
	if err != nil {
		return nil, fmt.Errorf("creating decryptor: %w", err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading plaintext: %w", err)
	}
	return plaintext, nil
}

// SealNote encrypts a free-text note for storage in a text column.
// An empty note stays empty so that "no notes" never costs a ciphertext.
func (e *Encryptor) SealNote(note string) (string, error) {
	if note == "" {
		return "", nil
	}
	ciphertext, err := e.Seal([]byte(note))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// OpenNote reverses SealNote.
func (e *Encryptor) OpenNote(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("decoding base64: %w", err)
	}
	plaintext, err := e.Open(decoded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// PublicKey returns the recipient string (age1...).
func (e *Encryptor) PublicKey() string {
	return e.recipient.String()
}

// GenerateRandomBytes generates cryptographically secure random bytes
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// GenerateCode returns an unguessable URL-safe invitation code built from n
// random bytes.
func GenerateCode(n int) (string, error) {
	if n < MinCodeBytes {
		return "", ErrShortCode
	}
	b, err := GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
