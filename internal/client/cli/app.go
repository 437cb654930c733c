// Package cli implements the owner-device command loop: key generation,
// envelope encryption and decryption, all against the local keystore. No
// plaintext or raw private key ever leaves the device.
package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/everkeep/everkeep/internal/client/config"
	"github.com/everkeep/everkeep/internal/client/keystore"
	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/cryptox"
)

type App struct {
	config *config.Config
	keys   *keystore.Keystore
	reader *bufio.Reader
}

func NewApp(c *config.Config) (*App, error) {

	ctx := context.Background()

	db, err := keystore.InitDatabase(ctx, c.KeystorePath)
	if err != nil {
		log.Printf("error initializing keystore: %s", err.Error())
		return nil, err
	}

	ks := keystore.New(keystore.NewSQLiteRepository(db))

	return &App{config: c, keys: ks, reader: bufio.NewReader(os.Stdin)}, nil
}

// Run starts the interactive command loop on stdin/stdout.
func (a *App) Run(ctx context.Context) {
	fmt.Println("everkeep CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	runREPL(ctx, a, func() string {
		if a.hasKeys(ctx) {
			return "keys ready"
		}
		return "no keys"
	}, scanner)
}

// hasKeys reports whether a key pair is stored on this device.
func (a *App) hasKeys(ctx context.Context) bool {
	_, err := a.keys.GetPublicKeyID(ctx)
	return err == nil
}

// unlockPrivateKey prompts for the passphrase and decrypts the stored
// private key. The returned key is a hex string usable as an envelope key.
func (a *App) unlockPrivateKey(ctx context.Context) (string, error) {
	envelope, salt, err := a.keys.GetPrivateKey(ctx)
	if err != nil {
		return "", err
	}

	pw, err := GetPassword(os.Stdout)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(pw)

	masterKey := cryptox.DeriveMasterKey(pw, salt)
	defer common.WipeByteArray(masterKey)

	priv, err := cryptox.Decrypt(envelope, hex.EncodeToString(masterKey))
	if err != nil {
		return "", fmt.Errorf("wrong passphrase or corrupted keystore: %w", err)
	}
	return string(priv), nil
}
