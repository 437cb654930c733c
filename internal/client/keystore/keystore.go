// Package keystore persists the owner's key material on the device. The
// private key is stored as a passphrase-encrypted envelope; only the public
// lookup label and the KDF salt are kept in the clear.
package keystore

import (
	"context"
	"fmt"

	"github.com/everkeep/everkeep/internal/common"
)

const (
	namePrivateKey  = "private_key"
	namePublicKeyID = "public_key_id"
	nameKDFSalt     = "kdf_salt"
)

// Keystore exposes key-slot operations over a named-secret Repository.
type Keystore struct {
	repo Repository
}

func New(repo Repository) *Keystore {
	return &Keystore{repo: repo}
}

// StorePrivateKey saves the encrypted private-key envelope together with the
// salt used to derive its passphrase key.
func (k *Keystore) StorePrivateKey(ctx context.Context, envelope string, kdfSalt []byte) error {
	if err := k.repo.Set(ctx, namePrivateKey, []byte(envelope)); err != nil {
		return err
	}
	return k.repo.Set(ctx, nameKDFSalt, kdfSalt)
}

// GetPrivateKey returns the stored envelope and KDF salt.
func (k *Keystore) GetPrivateKey(ctx context.Context) (string, []byte, error) {
	envelope, err := k.repo.Get(ctx, namePrivateKey)
	if err != nil {
		return "", nil, err
	}
	if envelope == nil {
		return "", nil, fmt.Errorf("%w: no private key stored", common.ErrNotFound)
	}
	salt, err := k.repo.Get(ctx, nameKDFSalt)
	if err != nil {
		return "", nil, err
	}
	if salt == nil {
		return "", nil, fmt.Errorf("%w: no key salt stored", common.ErrNotFound)
	}
	return string(envelope), salt, nil
}

func (k *Keystore) StorePublicKeyID(ctx context.Context, label string) error {
	return k.repo.Set(ctx, namePublicKeyID, []byte(label))
}

func (k *Keystore) GetPublicKeyID(ctx context.Context) (string, error) {
	label, err := k.repo.Get(ctx, namePublicKeyID)
	if err != nil {
		return "", err
	}
	if label == nil {
		return "", fmt.Errorf("%w: no public key label stored", common.ErrNotFound)
	}
	return string(label), nil
}

// DeleteStoredKeys removes every key slot from the device.
func (k *Keystore) DeleteStoredKeys(ctx context.Context) error {
	return k.repo.Clear(ctx)
}
