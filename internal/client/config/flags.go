package config

import (
	"flag"
	"os"

	"github.com/everkeep/everkeep/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-f string   path to the local keystore file (default from Config)
//
// Note: The function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-f"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.KeystorePath, "f", cfg.KeystorePath, "path to the local keystore file")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
