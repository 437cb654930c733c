package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/everkeep/everkeep/internal/cryptox"
	"github.com/everkeep/everkeep/internal/filex"
	"github.com/everkeep/everkeep/internal/netx"
)

const exportDirName = "exports"

// EncryptFile seals a file on disk into an envelope, writes it to the local
// export directory and optionally uploads it to a presigned URL issued by
// the server.
func (a *App) EncryptFile(ctx context.Context) error {
	key, err := a.unlockPrivateKey(ctx)
	if err != nil {
		return err
	}

	path, err := GetSimpleText(a.reader, "Path to the file to encrypt", os.Stdout)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}

	envelope, err := cryptox.Encrypt(data, key)
	if err != nil {
		return err
	}

	dir, err := filex.EnsureSubDir(exportDirName)
	if err != nil {
		return err
	}

	outPath := filepath.Join(dir, filepath.Base(path)+".enc")
	if err := os.WriteFile(outPath, []byte(envelope), 0o660); err != nil {
		return fmt.Errorf("cannot write %s: %w", outPath, err)
	}
	fmt.Printf("Encrypted file written to %s\n", outPath)

	url, err := GetSimpleText(a.reader, "Presigned upload URL (leave empty to skip upload)", os.Stdout)
	if err != nil {
		return err
	}
	if url == "" {
		return nil
	}

	if err := netx.UploadToPresignedURL(ctx, url, []byte(envelope)); err != nil {
		return err
	}
	fmt.Println("Upload complete.")
	return nil
}
