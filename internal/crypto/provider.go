package crypto

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/TheMichaelB/secretsync/internal/models"
)

const (
	// Key sizes
	KeySize   = 32 // AES-256
	NonceSize = 12 // GCM standard
	TagSize   = 16 // GCM tag
	SaltSize  = 32

	// DefaultIterations is the PBKDF2 iteration count. Changing it breaks
	// every existing artifact.
	DefaultIterations = 100000

	// MinPasswordLength is counted in characters, not bytes.
	MinPasswordLength = 8
)

// Errors
var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrInvalidKey        = errors.New("invalid key size")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrWeakPassword      = errors.New("password too short")
)

// emptyPlaintextSubstitute replaces empty input before encryption. Decrypting
// such a blob yields the substitute, not an empty value.
var emptyPlaintextSubstitute = []byte(" ")

// Provider performs password-based authenticated encryption of file contents.
type Provider struct {
	password   []byte
	iterations int
}

var _ Engine = (*Provider)(nil)

// NewProvider validates the password once and binds it to the provider.
func NewProvider(password string) (*Provider, error) {
	if password == "" {
		return nil, models.NewCryptoError("init", "password is required", ErrWeakPassword)
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return nil, models.NewCryptoError("init",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength), ErrWeakPassword)
	}

	return &Provider{
		password:   []byte(password),
		iterations: DefaultIterations,
	}, nil
}

// Encrypt encrypts plaintext under a fresh salt and nonce and returns the
// base64 blob.
func (p *Provider) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		plaintext = emptyPlaintextSubstitute
	}

	salt, err := randomBytes(SaltSize)
	if err != nil {
		return "", models.NewCryptoError("encrypt", "generate salt", err)
	}
	nonce, err := randomBytes(NonceSize)
	if err != nil {
		return "", models.NewCryptoError("encrypt", "generate nonce", err)
	}

	key := DeriveKey(p.password, salt, p.iterations)
	defer wipe(key)

	ciphertext, tag, err := sealGCM(key, nonce, plaintext)
	if err != nil {
		return "", models.NewCryptoError("encrypt", "cipher failure", err)
	}

	blob := &Blob{
		Salt:       salt,
		Nonce:      nonce,
		Tag:        tag,
		Ciphertext: ciphertext,
	}
	return blob.Encode(), nil
}

// Decrypt authenticates and decrypts a base64 blob. A wrong password and
// corrupted data produce the same error.
func (p *Provider) Decrypt(encoded string) ([]byte, error) {
	blob, err := ParseBlob(encoded)
	if err != nil {
		return nil, models.NewCryptoError("decrypt", "malformed encrypted data", err)
	}

	key := DeriveKey(p.password, blob.Salt, p.iterations)
	defer wipe(key)

	plaintext, err := openGCM(key, blob.Nonce, blob.Ciphertext, blob.Tag)
	if err != nil {
		if errors.Is(err, ErrDecryptionFailed) {
			return nil, models.NewCryptoError("decrypt", "incorrect password or corrupted data", ErrDecryptionFailed)
		}
		return nil, models.NewCryptoError("decrypt", "cipher failure", err)
	}

	return plaintext, nil
}

// VerifyStructure reports whether encoded is a well-formed blob. It never
// attempts decryption.
func (p *Provider) VerifyStructure(encoded string) bool {
	return VerifyStructure(encoded)
}

// VerifyStructure is the password-independent structural check.
func VerifyStructure(encoded string) bool {
	_, err := ParseBlob(encoded)
	return err == nil
}

// VerifyDetailed checks the structure and then attempts decryption. Failures
// caused by a wrong password or corrupted data leave Error empty.
func (p *Provider) VerifyDetailed(encoded string) (result VerifyResult) {
	defer func() {
		if r := recover(); r != nil {
			result.Valid = false
			result.DecryptionValid = false
			result.Error = fmt.Sprintf("verification failed: %v", r)
		}
	}()

	if !VerifyStructure(encoded) {
		return result
	}
	result.StructureValid = true

	_, err := p.Decrypt(encoded)
	switch {
	case err == nil:
		result.DecryptionValid = true
	case errors.Is(err, ErrDecryptionFailed):
		// Wrong password or tampering: no diagnostics
	default:
		result.Error = err.Error()
	}

	result.Valid = result.StructureValid && result.DecryptionValid
	return result
}

// Wipe zeroes the password held by the provider. The provider is unusable
// afterwards.
func (p *Provider) Wipe() {
	wipe(p.password)
	p.password = nil
}
