package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a stub.
type execIface interface {
	hasKeys(ctx context.Context) bool
	Keygen(ctx context.Context) error
	Encrypt(ctx context.Context) error
	EncryptFile(ctx context.Context) error
	Decrypt(ctx context.Context) error
	Label(ctx context.Context) error
	Wipe(ctx context.Context) error
}

// runREPL starts a simple read-eval-print loop for the everkeep CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Commands:
//
//	No key pair stored:
//	  - help           — show available commands
//	  - keygen         — create a key pair on this device
//	  - exit | quit    — leave the program
//
//	Key pair stored:
//	  - help           — show available commands
//	  - encrypt        — seal data into an envelope
//	  - encryptfile    — seal a file and optionally upload it
//	  - decrypt        — open an envelope
//	  - label          — show the shareable public key label
//	  - wipe           — delete all stored keys
//	  - exit | quit    — leave the program
//
// Command handlers report their own errors; the loop prints and continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("everkeep> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		var err error
		switch cmd {
		case "help":
			if a.hasKeys(ctx) {
				printlnFn("Available commands: encrypt, encryptfile, decrypt, label, wipe, exit")
			} else {
				printlnFn("Available commands: keygen, exit")
			}
		case "keygen":
			err = a.Keygen(ctx)
		case "encrypt":
			err = a.Encrypt(ctx)
		case "encryptfile":
			err = a.EncryptFile(ctx)
		case "decrypt":
			err = a.Decrypt(ctx)
		case "label":
			err = a.Label(ctx)
		case "wipe":
			err = a.Wipe(ctx)
		case "exit", "quit":
			return
		default:
			printlnFn("Unknown command. Type 'help' for the command list.")
		}

		if err != nil {
			printlnFn(fmt.Sprintf("error: %v", err))
		}
	}
}
