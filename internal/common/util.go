package common

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

// InvitationCodeAlphabet excludes 0/O and 1/I so codes survive being read
// aloud or typed from paper.
const InvitationCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// InvitationCodeLength is the fixed length of heir invitation codes.
const InvitationCodeLength = 6

// GenerateRandByteArray returns size cryptographically random bytes.
// It panics if the system RNG fails, which is not a recoverable condition.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// MakeRandHexString generates a random hexadecimal string of the given size.
// The size parameter specifies the number of random bytes to generate before
// encoding, so the final string length is twice the size.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// MakeInvitationCode returns a fixed-length human-enterable code drawn from
// InvitationCodeAlphabet. Uniqueness is the caller's concern; the code space
// (32^6) is large but collisions must still be checked against the store.
func MakeInvitationCode() (string, error) {
	max := big.NewInt(int64(len(InvitationCodeAlphabet)))
	code := make([]byte, InvitationCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = InvitationCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// WipeByteArray overwrites the contents of the provided byte slice with
// zeros. Useful for removing key material from memory after use. A nil
// slice is a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
