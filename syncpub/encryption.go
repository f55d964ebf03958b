package syncpub

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"os"

	"github.com/rohanthewiz/serr"
	"golang.org/x/crypto/pbkdf2"
)

// Key derivation and cipher parameters. These are part of the wire contract:
// every client must derive the same key from the same password and salt.
const (
	PBKDF2Iterations = 100_000
	KeySize          = 32 // AES-256
	SaltSize         = 16
	IVSize           = 12 // GCM standard nonce
)

// NewSalt returns SaltSize random bytes. One salt is generated per manifest
// generation and shared by every encrypted file in it.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, serr.Wrap(err, "failed to generate salt")
	}
	return salt, nil
}

// DeriveKey derives the AES-256 key from a sync password using
// PBKDF2-HMAC-SHA256.
func DeriveKey(password string, salt []byte) ([]byte, error) {
	if password == "" {
		return nil, serr.New("sync password is empty")
	}
	if len(salt) != SaltSize {
		return nil, serr.New("salt must be 16 bytes")
	}
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New), nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random IV.
// The returned ciphertext has the authentication tag appended.
// Never reuse an IV with the same key.
func Encrypt(plaintext, key []byte) (ciphertext, iv []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, serr.Wrap(err, "failed to generate random IV")
	}

	return gcm.Seal(nil, iv, plaintext, nil), iv, nil
}

// Decrypt opens ciphertext produced by Encrypt. A failed tag check
// (wrong password, corruption or tampering) is KindAuthenticationFailed.
func Decrypt(ciphertext, iv, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, NewError(KindAuthenticationFailed, "", "invalid IV length", nil)
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, NewError(KindAuthenticationFailed, "", "decryption failed", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, serr.New("encryption key must be 32 bytes for AES-256")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create GCM mode")
	}
	return gcm, nil
}

// Credentials supplies the sync password for a blog. Passwords are never
// persisted by the sync code; they are asked for per operation.
// An empty password with a nil error means none is configured.
type Credentials interface {
	SyncPassword(ctx context.Context, blogID string) (string, error)
}

// StaticCredentials maps blog ids to passwords. The "" key is used for
// blogs without their own entry.
type StaticCredentials map[string]string

func (c StaticCredentials) SyncPassword(_ context.Context, blogID string) (string, error) {
	if pw, ok := c[blogID]; ok {
		return pw, nil
	}
	return c[""], nil
}

// EnvCredentials reads one password for every blog from an environment variable.
type EnvCredentials struct {
	Var string
}

func (c EnvCredentials) SyncPassword(_ context.Context, _ string) (string, error) {
	return os.Getenv(c.Var), nil
}
