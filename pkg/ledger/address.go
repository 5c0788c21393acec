package ledger

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
)

const (
	ledgerAlphabet  = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"
	bitcoinAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

	versionAccountID byte = 0x00
	versionSeed      byte = 0x21
	// ed25519 seeds use the three byte version 0x01 0xE1 0x4B
	versionEd25519Seed byte = 0x01

	AccountIDLength = 20
	SeedLength      = 16
)

var ed25519SeedPrefix = []byte{0xE1, 0x4B}

// KeyType identifies the signing algorithm of a key pair.
type KeyType string

const (
	Secp256k1 KeyType = "secp256k1"
	Ed25519   KeyType = "ed25519"
)

var (
	ErrInvalidAddress = errors.New("invalid account address")
	ErrInvalidSeed    = errors.New("invalid seed")
)

var toBitcoin, toLedger [256]byte

func init() {
	for i := range ledgerAlphabet {
		toBitcoin[ledgerAlphabet[i]] = bitcoinAlphabet[i]
		toLedger[bitcoinAlphabet[i]] = ledgerAlphabet[i]
	}
}

func translate(s string, table *[256]byte) (string, bool) {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := table[s[i]]
		if c == 0 {
			return "", false
		}
		out[i] = c
	}
	return string(out), true
}

func encodeCheck(payload []byte, version byte) string {
	encoded, _ := translate(base58.CheckEncode(payload, version), &toLedger)
	return encoded
}

func decodeCheck(s string) ([]byte, byte, error) {
	btc, ok := translate(s, &toBitcoin)
	if !ok {
		return nil, 0, base58.ErrInvalidFormat
	}
	return base58.CheckDecode(btc)
}

// AccountIDFromPublicKey hashes a 33 byte public key into a 20 byte account ID.
func AccountIDFromPublicKey(pubKey []byte) []byte {
	sha := sha256.Sum256(pubKey)
	r := ripemd160.New()
	r.Write(sha[:])
	return r.Sum(nil)
}

// EncodeAccountID returns the classic address for a 20 byte account ID.
func EncodeAccountID(accountID []byte) (string, error) {
	if len(accountID) != AccountIDLength {
		return "", fmt.Errorf("account ID must be %d bytes, got %d", AccountIDLength, len(accountID))
	}
	return encodeCheck(accountID, versionAccountID), nil
}

// DecodeAddress returns the account ID of a classic address.
func DecodeAddress(address string) ([]byte, error) {
	if !strings.HasPrefix(address, "r") {
		return nil, ErrInvalidAddress
	}
	payload, version, err := decodeCheck(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if version != versionAccountID || len(payload) != AccountIDLength {
		return nil, ErrInvalidAddress
	}
	return payload, nil
}

// IsValidAddress reports whether s is a well formed classic address.
func IsValidAddress(s string) bool {
	_, err := DecodeAddress(s)
	return err == nil
}

// AddressFromPublicKey derives the classic address of a public key.
func AddressFromPublicKey(pubKey []byte) string {
	address, _ := EncodeAccountID(AccountIDFromPublicKey(pubKey))
	return address
}

// EncodeSeed encodes 16 bytes of seed entropy for the given key type.
func EncodeSeed(entropy []byte, keyType KeyType) (string, error) {
	if len(entropy) != SeedLength {
		return "", fmt.Errorf("seed entropy must be %d bytes, got %d", SeedLength, len(entropy))
	}
	if keyType == Ed25519 {
		payload := append(append([]byte{}, ed25519SeedPrefix...), entropy...)
		return encodeCheck(payload, versionEd25519Seed), nil
	}
	return encodeCheck(entropy, versionSeed), nil
}

// DecodeSeed returns the entropy and key type of an encoded seed.
func DecodeSeed(seed string) ([]byte, KeyType, error) {
	payload, version, err := decodeCheck(seed)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}

	switch {
	case version == versionSeed && len(payload) == SeedLength:
		return payload, Secp256k1, nil
	case version == versionEd25519Seed && len(payload) == SeedLength+2 &&
		payload[0] == ed25519SeedPrefix[0] && payload[1] == ed25519SeedPrefix[1]:
		return payload[2:], Ed25519, nil
	}
	return nil, "", ErrInvalidSeed
}
