package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	bls "github.com/cloudflare/circl/sign/bls"
)

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]
type BLSSignature = []byte

// BLSSigner holds a guardian key used to attest price updates.
type BLSSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

// NewBLSSignerFromSeed derives a key deterministically. The seed must be at
// least 32 bytes.
func NewBLSSignerFromSeed(seed []byte) (*BLSSigner, error) {
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to derive bls key: %w", err)
	}
	return &BLSSigner{sk: sk, pk: sk.PublicKey()}, nil
}

func (s *BLSSigner) Pubkey() *BLSPubKey { return s.pk }

func (s *BLSSigner) PubkeyHex() string {
	b, err := s.pk.MarshalBinary()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

func (s *BLSSigner) Sign(msg []byte) BLSSignature {
	return bls.Sign(s.sk, msg)
}

// ParseBLSPubKey decodes a hex-encoded public key ("0x" prefix optional).
func ParseBLSPubKey(s string) (*BLSPubKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid bls pubkey hex: %w", err)
	}
	pk := new(BLSPubKey)
	if err := pk.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("invalid bls pubkey: %w", err)
	}
	return pk, nil
}

func Verify(pk *BLSPubKey, sig BLSSignature, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sig))
}
