package emulator

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aspect-build/veritas/internal/crypto"
)

// Keys are the emulator's long-lived secrets: an X25519 key that tokens are
// sealed to and an ed25519 key that signs the verdict inside.
type Keys struct {
	SealKey [crypto.KeySize]byte
	SignKey ed25519.PrivateKey
}

type keysFile struct {
	SealKey  string `json:"seal_key"`
	SignSeed string `json:"sign_seed"`
}

// GenerateKeys creates a fresh key set.
func GenerateKeys() (*Keys, error) {
	sealKey, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	_, signKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Keys{SealKey: sealKey, SignKey: signKey}, nil
}

// LoadKeys reads a key file written by Save.
func LoadKeys(path string) (*Keys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read emulator keys file: %w", err)
	}

	var kf keysFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse emulator keys file: %w", err)
	}
	if kf.SealKey == "" || kf.SignSeed == "" {
		return nil, fmt.Errorf("seal_key and sign_seed are required in emulator keys file")
	}

	seal, err := decodeHexKey("seal_key", kf.SealKey, crypto.KeySize)
	if err != nil {
		return nil, err
	}
	seed, err := decodeHexKey("sign_seed", kf.SignSeed, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}

	k := &Keys{SignKey: ed25519.NewKeyFromSeed(seed)}
	copy(k.SealKey[:], seal)
	return k, nil
}

// Save writes the key set to path with owner-only permissions.
func (k *Keys) Save(path string) error {
	data, err := json.MarshalIndent(keysFile{
		SealKey:  hex.EncodeToString(k.SealKey[:]),
		SignSeed: hex.EncodeToString(k.SignKey.Seed()),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// SealPublicKey returns the X25519 public key clients seal tokens to.
func (k *Keys) SealPublicKey() ([crypto.KeySize]byte, error) {
	return crypto.PublicKey(k.SealKey)
}

// VerifyKey returns the ed25519 public key matching SignKey.
func (k *Keys) VerifyKey() ed25519.PublicKey {
	return k.SignKey.Public().(ed25519.PublicKey)
}

func decodeHexKey(name, value string, size int) ([]byte, error) {
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode %s hex: %w", name, err)
	}
	if len(decoded) != size {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", name, size, len(decoded))
	}
	return decoded, nil
}
