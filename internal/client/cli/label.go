package cli

import (
	"context"
	"fmt"
	"os"
)

// Label prints the stored public key label, the only key-derived value safe
// to share.
func (a *App) Label(ctx context.Context) error {
	label, err := a.keys.GetPublicKeyID(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Public key label: %s\n", label)
	return nil
}

// Wipe deletes every key slot from the device after confirmation.
func (a *App) Wipe(ctx context.Context) error {
	answer, err := GetSimpleText(a.reader, "Type 'yes' to delete all stored keys from this device", os.Stdout)
	if err != nil {
		return err
	}
	if answer != "yes" {
		fmt.Println("Aborted.")
		return nil
	}

	if err := a.keys.DeleteStoredKeys(ctx); err != nil {
		return err
	}
	fmt.Println("All stored keys deleted.")
	return nil
}
