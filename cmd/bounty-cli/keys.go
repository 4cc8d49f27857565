package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"openbounty/cmd/internal/passphrase"
	"openbounty/crypto"
)

func newPassphraseSource() *passphrase.Source {
	return passphrase.NewSource(keystorePassEnv, "keystore")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags parses args and rejects positional leftovers.
func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var (
		out   string
		force bool
	)
	fs.StringVar(&out, "out", "", "keystore file to create")
	fs.BoolVar(&force, "force", false, "overwrite an existing keystore")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return printError(stderr, "--out is required")
	}
	if _, err := os.Stat(out); err == nil && !force {
		return printError(stderr, fmt.Sprintf("%s already exists; pass --force to overwrite", out))
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return printError(stderr, err.Error())
	}

	pass, err := passSource().Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, fmt.Sprintf("generate key: %v", err))
	}
	if err := crypto.SaveToKeystore(out, key, pass); err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Address: %s\nKeystore: %s\n", key.Address(), out)
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	var keyPath string
	fs.StringVar(&keyPath, "key", "", "keystore file")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(keyPath) == "" {
		return printError(stderr, "--key is required")
	}
	addr, err := crypto.KeystoreAddress(keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "%s\n%s\n", addr, addr.Hex())
	return 0
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("--key is required")
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("keystore %s not found; run bounty-cli keygen first", path)
		}
		return nil, err
	}
	pass, err := passSource().Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock keystore %s: %w", path, err)
	}
	return key, nil
}
