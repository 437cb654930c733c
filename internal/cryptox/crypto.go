// Package cryptox implements the key-management primitives: key material
// generation, the salt:iv:ciphertext envelope codec, and sealed-box wrapping
// for handing data keys to heirs.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/everkeep/everkeep/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// envelopeSaltSize is the per-call KDF salt length in bytes.
	envelopeSaltSize = 16
	// envelopeIVSize is the AES-GCM nonce length in bytes.
	envelopeIVSize = 12
	// envelopeKDFIterations is the PBKDF2 iteration count. The floor for
	// this scheme is 5000; we run double that.
	envelopeKDFIterations = 10000

	// lookupLabelPrefix marks derived lookup labels so they are never
	// mistaken for raw key material.
	lookupLabelPrefix = "pk_"
	lookupLabelSize   = 32
)

// KeyPair holds a freshly generated owner secret and its derived lookup
// label. PrivateKey is the 256-bit master secret, hex encoded. PublicKeyID
// is a one-way label usable only as a storage lookup key; it cannot encrypt
// data for the owner. Callers that need real asymmetric wrapping use
// GenerateBoxKeyPair instead.
type KeyPair struct {
	PrivateKey  string
	PublicKeyID string
}

// GenerateKeyPair produces a fresh random 256-bit secret and its one-way
// derived lookup label.
func GenerateKeyPair() (*KeyPair, error) {
	secret, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, fmt.Errorf("key generation: %w", err)
	}
	return &KeyPair{
		PrivateKey:  secret,
		PublicKeyID: DeriveLookupLabel(secret),
	}, nil
}

// DeriveLookupLabel derives the public lookup label from a private key.
// The derivation is one-way; the label carries no decryption capability.
func DeriveLookupLabel(privateKey string) string {
	sum := sha256.Sum256([]byte(privateKey))
	return lookupLabelPrefix + hex.EncodeToString(sum[:])[:lookupLabelSize]
}

// MakeVerifier returns a one-way verifier for a derived master key,
// stored server-side so the raw key never leaves the device.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// DeriveMasterKey derives a 256-bit login master key from a password and
// salt using argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// Encrypt encrypts plaintext under key and returns the envelope
// "saltHex:ivHex:ciphertextBase64". A fresh random salt feeds PBKDF2-SHA256
// to derive the per-call AES key, and a fresh random IV feeds AES-GCM, so
// encrypting the same plaintext twice yields different envelopes.
func Encrypt(plaintext []byte, key string) (string, error) {
	salt := common.GenerateRandByteArray(envelopeSaltSize)
	iv := common.GenerateRandByteArray(envelopeIVSize)

	aead, err := newEnvelopeAEAD(key, salt)
	if err != nil {
		return "", err
	}

	ciphertext := aead.Seal(nil, iv, plaintext, nil)

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt reverses Encrypt. Any malformed envelope (segment count, bad
// encodings) or failed GCM verification yields common.ErrCrypto; corrupted
// plaintext is never returned.
func Decrypt(envelope string, key string) ([]byte, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: envelope must have exactly three segments, got %d", common.ErrCrypto, len(parts))
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid salt encoding", common.ErrCrypto)
	}
	iv, err := hex.DecodeString(parts[1])
	if err != nil || len(iv) != envelopeIVSize {
		return nil, fmt.Errorf("%w: invalid iv encoding", common.ErrCrypto)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext encoding", common.ErrCrypto)
	}

	aead, err := newEnvelopeAEAD(key, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher verification failed", common.ErrCrypto)
	}
	if plaintext == nil {
		// Open returns a nil slice for an empty message; callers get the
		// same shape Encrypt was given.
		plaintext = []byte{}
	}
	return plaintext, nil
}

func newEnvelopeAEAD(key string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(key), salt, envelopeKDFIterations, 32, sha256.New)
	defer common.WipeByteArray(derived)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}
	return aead, nil
}
