package cli

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/cryptox"
)

const kdfSaltSize = 16

// Keygen creates a fresh key pair, encrypts the private key under a
// passphrase-derived key and stores both slots. Refuses to overwrite an
// existing pair; the user must wipe first.
func (a *App) Keygen(ctx context.Context) error {
	if a.hasKeys(ctx) {
		fmt.Println("A key pair already exists on this device. Run 'wipe' first to replace it.")
		return nil
	}

	kp, err := cryptox.GenerateKeyPair()
	if err != nil {
		return err
	}

	pw, err := GetPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	fmt.Print("Repeat passphrase: ")
	pw2, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw2)

	if subtle.ConstantTimeCompare(pw, pw2) != 1 {
		fmt.Println("Passphrases do not match.")
		return nil
	}

	salt := common.GenerateRandByteArray(kdfSaltSize)
	masterKey := cryptox.DeriveMasterKey(pw, salt)
	defer common.WipeByteArray(masterKey)

	envelope, err := cryptox.Encrypt([]byte(kp.PrivateKey), hex.EncodeToString(masterKey))
	if err != nil {
		return err
	}

	if err := a.keys.StorePrivateKey(ctx, envelope, salt); err != nil {
		return err
	}
	if err := a.keys.StorePublicKeyID(ctx, kp.PublicKeyID); err != nil {
		return err
	}

	fmt.Printf("Key pair created. Public key label: %s\n", kp.PublicKeyID)
	return nil
}
