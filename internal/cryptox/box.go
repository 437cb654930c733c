package cryptox

import (
	"crypto/rand"
	"fmt"

	"github.com/everkeep/everkeep/internal/common"
	"golang.org/x/crypto/nacl/box"
)

// BoxKeyPair is a curve25519 key pair for sealed-box exchange. Unlike the
// symmetric KeyPair, the public half here really can be used by a third
// party to encrypt data for its holder.
type BoxKeyPair struct {
	PublicKey  *[32]byte
	PrivateKey *[32]byte
}

// GenerateBoxKeyPair produces a curve25519 key pair. Heirs register the
// public half at acceptance time so the owner's data keys can later be
// wrapped for them without ever exposing the owner's raw secret.
func GenerateBoxKeyPair() (*BoxKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("box key generation: %w", err)
	}
	return &BoxKeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// WrapForHeir seals payload (typically a vault data key) so only the heir's
// private key can open it. The owner's private key authenticates the sender.
func WrapForHeir(payload []byte, heirPub, ownerPriv *[32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	sealed := box.Seal(nonce[:], payload, &nonce, heirPub, ownerPriv)
	return sealed, nil
}

// OpenFromOwner opens a payload sealed with WrapForHeir. Tampered or
// mismatched boxes yield common.ErrCrypto.
func OpenFromOwner(sealed []byte, ownerPub, heirPriv *[32]byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, fmt.Errorf("%w: sealed box too short", common.ErrCrypto)
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	payload, ok := box.Open(nil, sealed[24:], &nonce, ownerPub, heirPriv)
	if !ok {
		return nil, fmt.Errorf("%w: sealed box verification failed", common.ErrCrypto)
	}
	return payload, nil
}
