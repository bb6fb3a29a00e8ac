// genkey generates development credentials for a local haggle stack.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go
//
// Prints:
//
//	HAGGLE_SECRET_ENCRYPTION_KEY  — AES key for reservation-code ciphertext
//	a did:key agent identity       — public DID plus its Ed25519 seed, for
//	                                 signing test requests
//
// Nothing is written to disk; copy the values into .env or your secret
// store. Generate fresh values per environment.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/haggle-ai/haggle/internal/secretbox"
	"github.com/haggle-ai/haggle/internal/sigcheck"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "genkey:", err)
		os.Exit(1)
	}
}

func run() error {
	encKey, err := secretbox.GenerateKey()
	if err != nil {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate agent key: %w", err)
	}

	fmt.Printf("HAGGLE_SECRET_ENCRYPTION_KEY=%s\n", encKey)
	fmt.Println()
	fmt.Println("# development agent identity")
	fmt.Printf("agent DID:          %s\n", sigcheck.DIDForPublicKey(pub))
	fmt.Printf("agent private seed: %s\n", hex.EncodeToString(priv.Seed()))
	return nil
}
