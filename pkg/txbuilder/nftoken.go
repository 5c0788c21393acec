package txbuilder

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
)

// NFToken flags stored in the token ID
const (
	NFTokenBurnable     uint16 = 0x0001
	NFTokenOnlyXRP      uint16 = 0x0002
	NFTokenTrustLine    uint16 = 0x0004
	NFTokenTransferable uint16 = 0x0008
)

// NFTokenInfo is the data packed into a 32 byte NFTokenID
type NFTokenInfo struct {
	Flags       uint16
	TransferFee uint16
	Issuer      string
	Taxon       uint32
	Sequence    uint32
}

// scrambleTaxon hides the taxon so that tokens of one taxon do not sort together.
// The operation is its own inverse.
func scrambleTaxon(taxon, sequence uint32) uint32 {
	return taxon ^ (384160001*sequence + 2459)
}

// DecodeNFTokenID unpacks an NFTokenID
func DecodeNFTokenID(id string) (NFTokenInfo, error) {
	b, err := decodeHex(id)
	if err != nil || len(b) != 32 {
		return NFTokenInfo{}, fmt.Errorf("invalid NFTokenID %q", id)
	}
	issuer, err := ledger.EncodeAccountID(b[4:24])
	if err != nil {
		return NFTokenInfo{}, err
	}
	seq := binary.BigEndian.Uint32(b[28:32])
	return NFTokenInfo{
		Flags:       binary.BigEndian.Uint16(b[0:2]),
		TransferFee: binary.BigEndian.Uint16(b[2:4]),
		Issuer:      issuer,
		Taxon:       scrambleTaxon(binary.BigEndian.Uint32(b[24:28]), seq),
		Sequence:    seq,
	}, nil
}

// EncodeNFTokenID packs token data into an NFTokenID
func EncodeNFTokenID(info NFTokenInfo) (string, error) {
	accountID, err := ledger.DecodeAddress(info.Issuer)
	if err != nil {
		return "", err
	}
	b := make([]byte, 32)
	binary.BigEndian.PutUint16(b[0:2], info.Flags)
	binary.BigEndian.PutUint16(b[2:4], info.TransferFee)
	copy(b[4:24], accountID)
	binary.BigEndian.PutUint32(b[24:28], scrambleTaxon(info.Taxon, info.Sequence))
	binary.BigEndian.PutUint32(b[28:32], info.Sequence)
	return hexUpper(b), nil
}

// DecodeURI returns the text of a hex encoded URI field
func DecodeURI(hexURI string) (string, error) {
	b, err := decodeHex(hexURI)
	if err != nil {
		return "", fmt.Errorf("invalid URI: %w", err)
	}
	return string(b), nil
}

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(s))
}
