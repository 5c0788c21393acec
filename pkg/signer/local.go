package signer

import (
	"context"
	"fmt"

	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
)

// LocalSeed signs with a key held in process memory
type LocalSeed struct {
	keys   *KeyPair
	codec  Codec
	logger logger.Logger
}

// NewLocalSeed creates a signer for an already derived key pair
func NewLocalSeed(keys *KeyPair, codec Codec, log logger.Logger) *LocalSeed {
	return &LocalSeed{
		keys:   keys,
		codec:  codec,
		logger: log,
	}
}

// OpenLocalSeed loads a seed vault and derives its key pair
func OpenLocalSeed(path, password, pin string, codec Codec, log logger.Logger) (*LocalSeed, error) {
	vault, err := LoadVault(path)
	if err != nil {
		return nil, err
	}
	seed, err := vault.Open(password, pin)
	if err != nil {
		return nil, err
	}
	keys, err := DeriveKeyPair(seed)
	if err != nil {
		return nil, err
	}
	if vault.Address != "" && vault.Address != keys.Address() {
		return nil, fmt.Errorf("seed file address %s does not match derived address %s", vault.Address, keys.Address())
	}
	log.Info("Loaded %s key for %s", keys.KeyType(), keys.Address())
	return NewLocalSeed(keys, codec, log), nil
}

// Backend returns the backend name
func (s *LocalSeed) Backend() string { return BackendSeed }

// Address returns the account of the key
func (s *LocalSeed) Address() string { return s.keys.Address() }

// Sign signs tx with the local key. A transaction whose Account differs from the key's
// address is signed as a regular key signature.
func (s *LocalSeed) Sign(ctx context.Context, tx models.TransactionIntent) (*models.SignedTransaction, error) {
	if tx.Account() != s.keys.Address() {
		s.logger.Notice("Signing for %s with key of %s", tx.Account(), s.keys.Address())
	}
	signed, err := assemble(ctx, s.codec, tx, s.keys.PublicKey(), func(_ context.Context, encoded []byte) ([]byte, error) {
		return s.keys.Sign(encoded)
	})
	if err != nil {
		return nil, &Error{Backend: BackendSeed, Err: err}
	}
	return signed, nil
}
