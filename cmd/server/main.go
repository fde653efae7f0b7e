package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/mzakharov/filevault/internal/server"
	"github.com/mzakharov/filevault/internal/server/config"
	"github.com/mzakharov/filevault/internal/shared"
	"github.com/mzakharov/filevault/internal/vault"
)

// masterKey provisions the vault master key: either decoded from the
// configured hex value, or derived from a passphrase read off the terminal.
func masterKey(cfg *config.Config) ([]byte, error) {
	if cfg.MasterKeyHex != "" {
		key, err := hex.DecodeString(cfg.MasterKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid master key hex: %w", err)
		}
		return key, nil
	}

	salt, err := hex.DecodeString(cfg.MasterKeySalt)
	if err != nil {
		return nil, fmt.Errorf("invalid master key salt: %w", err)
	}

	fmt.Fprint(os.Stderr, "Vault master passphrase: ")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("passphrase read error: %w", err)
	}
	defer shared.WipeByteArray(passphrase)

	return vault.DeriveMasterKey(passphrase, salt), nil
}

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	key, err := masterKey(cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	defer shared.WipeByteArray(key)

	app, err := server.NewApp(ctx, cfg, key)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)
}
