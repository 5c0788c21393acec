package signer

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// vault key derivation parameters
const (
	vaultVersion = 1
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	vaultKeyLen  = chacha20poly1305.KeySize
	vaultSaltLen = 16
)

// ErrWrongPassword is returned when the vault cannot be opened with the given secrets
var ErrWrongPassword = errors.New("wrong password or PIN")

// Vault is the on-disk form of a seed. A vault either holds the seed in plain text or
// encrypted with a key derived from a password and a PIN.
type Vault struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Seed       string `json:"seed,omitempty"`
	KDF        string `json:"kdf,omitempty"`
	N          int    `json:"n,omitempty"`
	R          int    `json:"r,omitempty"`
	P          int    `json:"p,omitempty"`
	Salt       string `json:"salt,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

// Encrypted reports whether the seed needs a password
func (v *Vault) Encrypted() bool { return v.Ciphertext != "" }

// SealSeed creates an encrypted vault for seed
func SealSeed(seed, password, pin string) (*Vault, error) {
	kp, err := DeriveKeyPair(seed)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("a password is required to encrypt a seed")
	}

	salt := make([]byte, vaultSaltLen)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	v := &Vault{
		Version: vaultVersion,
		Address: kp.Address(),
		KDF:     "scrypt",
		N:       scryptN,
		R:       scryptR,
		P:       scryptP,
		Salt:    hexString(salt),
		Nonce:   hexString(nonce),
	}
	aead, err := v.deriveCipher(password, pin, salt)
	if err != nil {
		return nil, err
	}
	v.Ciphertext = hexString(aead.Seal(nil, nonce, []byte(seed), []byte(v.Address)))
	return v, nil
}

// PlainVault stores seed without encryption
func PlainVault(seed string) (*Vault, error) {
	kp, err := DeriveKeyPair(seed)
	if err != nil {
		return nil, err
	}
	return &Vault{Version: vaultVersion, Address: kp.Address(), Seed: seed}, nil
}

// Open returns the seed held by the vault
func (v *Vault) Open(password, pin string) (string, error) {
	if !v.Encrypted() {
		if v.Seed == "" {
			return "", fmt.Errorf("vault holds no seed")
		}
		return v.Seed, nil
	}
	if v.KDF != "scrypt" {
		return "", fmt.Errorf("unsupported key derivation %q", v.KDF)
	}

	salt, err := decodeHex(v.Salt)
	if err != nil {
		return "", fmt.Errorf("invalid salt: %w", err)
	}
	nonce, err := decodeHex(v.Nonce)
	if err != nil {
		return "", fmt.Errorf("invalid nonce: %w", err)
	}
	ciphertext, err := decodeHex(v.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext: %w", err)
	}

	aead, err := v.deriveCipher(password, pin, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("invalid nonce length %d", len(nonce))
	}
	seed, err := aead.Open(nil, nonce, ciphertext, []byte(v.Address))
	if err != nil {
		return "", ErrWrongPassword
	}
	return string(seed), nil
}

func (v *Vault) deriveCipher(password, pin string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password+"\x00"+pin), salt, v.N, v.R, v.P, vaultKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

// LoadVault reads a vault file
func LoadVault(path string) (*Vault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var v Vault
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &v, nil
}

// Save writes the vault to path, readable by the owner only
func (v *Vault) Save(path string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
