// Package signer turns autofilled transactions into signed blobs.
package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
)

// Backend names
const (
	BackendSeed     = "seed"
	BackendHardware = "hardware"
	BackendMobile   = "mobile"
)

// ErrDeclined is returned when the human operating the signer refused to sign.
// It is a recoverable abort: nothing was submitted and the caller may retry.
var ErrDeclined = errors.New("signing declined")

// Error wraps a signing failure other than a decline
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s signer: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Signer signs an autofilled transaction. Implementations may block on a person
// confirming the signature; the mobile backend polls until the request is resolved.
type Signer interface {
	Sign(ctx context.Context, tx models.TransactionIntent) (*models.SignedTransaction, error)
	Backend() string
	// Address is the account the backend signs for
	Address() string
}

// Codec serializes transactions to the ledger binary format
type Codec interface {
	Encode(ctx context.Context, tx map[string]interface{}) (string, error)
	EncodeForSigning(ctx context.Context, tx map[string]interface{}) ([]byte, error)
}

// signFunc signs the output of Codec.EncodeForSigning and returns the raw signature
type signFunc func(ctx context.Context, encoded []byte) ([]byte, error)

// assemble runs the shared single-signature flow: attach the public key, serialize for
// signing, sign, attach the signature and serialize the final blob.
func assemble(ctx context.Context, codec Codec, tx models.TransactionIntent, publicKey []byte, sign signFunc) (*models.SignedTransaction, error) {
	out := tx.Clone()
	out[models.FieldSigningPubKey] = strings.ToUpper(hexString(publicKey))
	delete(out, models.FieldTxnSignature)

	encoded, err := codec.EncodeForSigning(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("encode for signing: %w", err)
	}
	if !ledger.HasSigningPrefix(encoded) {
		return nil, fmt.Errorf("codec returned data without the signing prefix")
	}

	signature, err := sign(ctx, encoded)
	if err != nil {
		return nil, err
	}
	out[models.FieldTxnSignature] = strings.ToUpper(hexString(signature))

	blob, err := codec.Encode(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return newSigned(out, blob)
}

func newSigned(tx models.TransactionIntent, blob string) (*models.SignedTransaction, error) {
	hash, err := ledger.TransactionHash(blob)
	if err != nil {
		return nil, err
	}
	seq, _ := tx.Uint32(models.FieldSequence)
	lls, _ := tx.Uint32(models.FieldLastLedgerSequence)
	return &models.SignedTransaction{
		TxBlob:             strings.ToUpper(blob),
		Hash:               hash,
		Account:            tx.Account(),
		Sequence:           seq,
		LastLedgerSequence: lls,
	}, nil
}
