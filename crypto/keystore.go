package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	ErrNilKey            = errors.New("crypto: nil private key")
	ErrEmptyKeystore     = errors.New("crypto: empty keystore path")
	ErrKeystoreNoAddress = errors.New("crypto: keystore missing address")
)

// SaveToKeystore encrypts key with passphrase into a v3 keystore file at path,
// replacing any existing file through a temporary sibling and rename.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil || key.PrivateKey == nil {
		return ErrNilKey
	}
	if path == "" {
		return ErrEmptyKeystore
	}
	encrypted, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    common.Address(key.Address()),
		PrivateKey: key.PrivateKey,
	}, passphrase, keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		return fmt.Errorf("crypto: encrypt key: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFromKeystore decrypts the keystore file at path.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, ErrEmptyKeystore
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

// KeystoreAddress reads the plaintext address of a keystore file without
// asking for the passphrase.
func KeystoreAddress(path string) (Address, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return Address{}, err
	}
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(keyJSON, &header); err != nil {
		return Address{}, fmt.Errorf("crypto: parse keystore: %w", err)
	}
	if header.Address == "" {
		return Address{}, ErrKeystoreNoAddress
	}
	return ParseAddress("0x" + header.Address)
}
