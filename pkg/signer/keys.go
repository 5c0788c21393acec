package signer

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
)

// ed25519 public keys are prefixed with this byte on the ledger
const ed25519KeyPrefix = 0xED

// KeyPair is a ledger signing key
type KeyPair struct {
	keyType ledger.KeyType
	secp    *secp256k1.PrivateKey
	ed      ed25519.PrivateKey
	public  []byte
}

// DeriveKeyPair derives the account key pair of an encoded seed
func DeriveKeyPair(seed string) (*KeyPair, error) {
	entropy, keyType, err := ledger.DecodeSeed(strings.TrimSpace(seed))
	if err != nil {
		return nil, err
	}
	return KeyPairFromEntropy(entropy, keyType)
}

// KeyPairFromEntropy derives a key pair from 16 bytes of seed entropy
func KeyPairFromEntropy(entropy []byte, keyType ledger.KeyType) (*KeyPair, error) {
	if len(entropy) != ledger.SeedLength {
		return nil, fmt.Errorf("%w: entropy must be %d bytes", ledger.ErrInvalidSeed, ledger.SeedLength)
	}

	if keyType == ledger.Ed25519 {
		return ed25519KeyPair(ledger.SHA512Half(entropy)), nil
	}

	// family seed derivation: root key from the seed, account 0 key from the root public key
	root := deriveScalar(entropy)
	rootPublic := secp256k1.NewPrivateKey(root).PubKey().SerializeCompressed()
	tweak := deriveScalar(rootPublic, []byte{0, 0, 0, 0})

	account := new(secp256k1.ModNScalar).Set(root).Add(tweak)
	if account.IsZero() {
		return nil, fmt.Errorf("%w: derived key is zero", ledger.ErrInvalidSeed)
	}
	return secpKeyPair(secp256k1.NewPrivateKey(account)), nil
}

// KeyPairFromPrivateKey imports a hex private key. secp256k1 keys are 32 bytes with an
// optional 00 prefix, ed25519 keys carry the ED prefix.
func KeyPairFromPrivateKey(hexKey string) (*KeyPair, error) {
	hexKey = strings.ToUpper(strings.TrimSpace(hexKey))
	switch {
	case len(hexKey) == 66 && strings.HasPrefix(hexKey, "ED"):
		b, err := decodeHex(hexKey[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid ed25519 private key: %w", err)
		}
		return ed25519KeyPair(b), nil
	case len(hexKey) == 66 && strings.HasPrefix(hexKey, "00"):
		hexKey = hexKey[2:]
	}

	ecKey, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid secp256k1 private key: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(ethcrypto.FromECDSA(ecKey))
	kp := secpKeyPair(priv)
	kp.public = ethcrypto.CompressPubkey(&ecKey.PublicKey)
	return kp, nil
}

func deriveScalar(input []byte, extra ...[]byte) *secp256k1.ModNScalar {
	var counter [4]byte
	for i := uint32(0); ; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		parts := append(append([][]byte{input}, extra...), counter[:])

		var s secp256k1.ModNScalar
		if overflow := s.SetByteSlice(ledger.SHA512Half(parts...)); !overflow && !s.IsZero() {
			return &s
		}
	}
}

func secpKeyPair(priv *secp256k1.PrivateKey) *KeyPair {
	return &KeyPair{
		keyType: ledger.Secp256k1,
		secp:    priv,
		public:  priv.PubKey().SerializeCompressed(),
	}
}

func ed25519KeyPair(seed []byte) *KeyPair {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{
		keyType: ledger.Ed25519,
		ed:      priv,
		public:  append([]byte{ed25519KeyPrefix}, pub...),
	}
}

// KeyType returns the signing algorithm
func (k *KeyPair) KeyType() ledger.KeyType { return k.keyType }

// PublicKey returns the 33 byte public key as it appears in SigningPubKey
func (k *KeyPair) PublicKey() []byte { return append([]byte(nil), k.public...) }

// Address returns the classic address of the key pair
func (k *KeyPair) Address() string { return ledger.AddressFromPublicKey(k.public) }

// PrivateKeyHex exports the private key in the format accepted by KeyPairFromPrivateKey
func (k *KeyPair) PrivateKeyHex() string {
	if k.keyType == ledger.Ed25519 {
		return "ED" + strings.ToUpper(hexString(k.ed.Seed()))
	}
	key := k.secp.Key.Bytes()
	return "00" + strings.ToUpper(hexString(key[:]))
}

// Sign signs data produced by Codec.EncodeForSigning. secp256k1 signatures are DER encoded
// over SHA512Half of the data with a canonical low S value.
func (k *KeyPair) Sign(encoded []byte) ([]byte, error) {
	if k.keyType == ledger.Ed25519 {
		return ed25519.Sign(k.ed, encoded), nil
	}
	return ecdsa.Sign(k.secp, ledger.SigningDigest(encoded)).Serialize(), nil
}

// Verify checks a signature over encoded data against a public key
func Verify(publicKey, encoded, signature []byte) bool {
	if len(publicKey) == 33 && publicKey[0] == ed25519KeyPrefix {
		return ed25519.Verify(ed25519.PublicKey(publicKey[1:]), encoded, signature)
	}
	pub, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(ledger.SigningDigest(encoded), pub)
}
