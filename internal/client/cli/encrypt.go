package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/everkeep/everkeep/internal/cryptox"
)

// Encrypt reads plaintext from the user, seals it with the unlocked private
// key and prints the resulting envelope.
func (a *App) Encrypt(ctx context.Context) error {
	key, err := a.unlockPrivateKey(ctx)
	if err != nil {
		return err
	}

	plaintext, err := GetMultiline(a.reader, "Enter the data to encrypt", os.Stdout)
	if err != nil {
		return err
	}
	if plaintext == "" {
		fmt.Println("Nothing to encrypt.")
		return nil
	}

	envelope, err := cryptox.Encrypt([]byte(plaintext), key)
	if err != nil {
		return err
	}

	fmt.Println("Envelope:")
	fmt.Println(envelope)
	return nil
}

// Decrypt reads an envelope from the user, opens it with the unlocked
// private key and prints the plaintext.
func (a *App) Decrypt(ctx context.Context) error {
	key, err := a.unlockPrivateKey(ctx)
	if err != nil {
		return err
	}

	envelope, err := GetSimpleText(a.reader, "Paste the envelope", os.Stdout)
	if err != nil {
		return err
	}

	plaintext, err := cryptox.Decrypt(envelope, key)
	if err != nil {
		return fmt.Errorf("cannot decrypt envelope: %w", err)
	}

	fmt.Println("Plaintext:")
	fmt.Println(string(plaintext))
	return nil
}
