package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/crypto"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verified is the outcome of signature verification. Digest is the signed
// EIP-712 hash; it identifies the request independent of signature encoding.
type Verified struct {
	Signer common.Address
	Digest common.Hash
}

// VerifyOpenTransaction checks that the open request was signed by its owner
func (v *Verifier) VerifyOpenTransaction(tx *SignedTransaction) (*crypto.OpenOrderEIP712, Verified, error) {
	if tx.Type != TxTypeOpen || tx.Open == nil {
		return nil, Verified{}, fmt.Errorf("not an open transaction")
	}
	order, err := tx.Open.ToEIP712()
	if err != nil {
		return nil, Verified{}, fmt.Errorf("invalid open format: %w", err)
	}
	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, Verified{}, err
	}
	digest, err := v.eip712Signer.HashOpenOrder(order)
	if err != nil {
		return nil, Verified{}, err
	}
	if !crypto.VerifySignature(order.Owner, digest, sigBytes) {
		return nil, Verified{}, fmt.Errorf("%w: not signed by owner %s", ErrInvalidSignature, order.Owner.Hex())
	}
	return order, Verified{Signer: order.Owner, Digest: common.BytesToHash(digest)}, nil
}

// VerifySettleTransaction checks that the settle request was signed by its caller
func (v *Verifier) VerifySettleTransaction(tx *SignedTransaction) (*crypto.SettleOrderEIP712, Verified, error) {
	if tx.Type != TxTypeSettle || tx.Settle == nil {
		return nil, Verified{}, fmt.Errorf("not a settle transaction")
	}
	req, err := tx.Settle.ToEIP712()
	if err != nil {
		return nil, Verified{}, fmt.Errorf("invalid settle format: %w", err)
	}
	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, Verified{}, err
	}
	digest, err := v.eip712Signer.HashSettleOrder(req)
	if err != nil {
		return nil, Verified{}, err
	}
	if !crypto.VerifySignature(req.Caller, digest, sigBytes) {
		return nil, Verified{}, fmt.Errorf("%w: not signed by caller %s", ErrInvalidSignature, req.Caller.Hex())
	}
	return req, Verified{Signer: req.Caller, Digest: common.BytesToHash(digest)}, nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", ErrInvalidSignature, err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("%w: must be 65 bytes, got %d", ErrInvalidSignature, len(sigBytes))
	}
	return sigBytes, nil
}
