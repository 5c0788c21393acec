package ledger

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
)

// hash prefixes
var (
	prefixTransactionID = []byte{0x54, 0x58, 0x4E, 0x00} // TXN
	prefixTxSign        = []byte{0x53, 0x54, 0x58, 0x00} // STX
)

// SHA512Half returns the first 32 bytes of SHA-512 over the concatenated inputs.
func SHA512Half(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)[:32]
}

// TransactionHash computes the identifying hash of a signed transaction blob.
func TransactionHash(txBlob string) (string, error) {
	blob, err := hex.DecodeString(txBlob)
	if err != nil {
		return "", fmt.Errorf("invalid transaction blob: %w", err)
	}
	if len(blob) == 0 {
		return "", fmt.Errorf("empty transaction blob")
	}
	return strings.ToUpper(hex.EncodeToString(SHA512Half(prefixTransactionID, blob))), nil
}

// SigningDigest is the message that single signers sign for secp256k1 keys.
// encodedForSigning must already carry the STX prefix, as returned by the codec.
func SigningDigest(encodedForSigning []byte) []byte {
	return SHA512Half(encodedForSigning)
}

// HasSigningPrefix reports whether the encoded transaction starts with the single signing prefix.
func HasSigningPrefix(encoded []byte) bool {
	if len(encoded) < len(prefixTxSign) {
		return false
	}
	for i, b := range prefixTxSign {
		if encoded[i] != b {
			return false
		}
	}
	return true
}

// NormalizeHash upper-cases a hash for comparisons.
func NormalizeHash(hash string) string {
	return strings.ToUpper(strings.TrimSpace(hash))
}
