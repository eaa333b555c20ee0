package oracle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/tpsl/pkg/crypto"
)

// GuardianSignature is one guardian's attestation, identified by its index
// in the guardian set.
type GuardianSignature struct {
	Index     int           `json:"index"`
	Signature hexutil.Bytes `json:"signature"`
}

type GuardianSet struct {
	keys      []*crypto.BLSPubKey
	threshold int
}

func NewGuardianSet(keys []*crypto.BLSPubKey, threshold int) (*GuardianSet, error) {
	if threshold <= 0 || threshold > len(keys) {
		return nil, fmt.Errorf("invalid threshold %d for %d guardians", threshold, len(keys))
	}
	return &GuardianSet{keys: keys, threshold: threshold}, nil
}

func (g *GuardianSet) Threshold() int { return g.threshold }

// Verify requires valid signatures over msg from at least threshold distinct
// guardians. Duplicate indices count once.
func (g *GuardianSet) Verify(msg []byte, sigs []GuardianSignature) error {
	seen := make(map[int]bool, len(sigs))
	for _, s := range sigs {
		if s.Index < 0 || s.Index >= len(g.keys) {
			return fmt.Errorf("%w: %d", ErrUnknownGuardian, s.Index)
		}
		if seen[s.Index] {
			continue
		}
		if !crypto.Verify(g.keys[s.Index], s.Signature, msg) {
			return fmt.Errorf("%w: guardian %d", ErrInvalidSignature, s.Index)
		}
		seen[s.Index] = true
	}
	if len(seen) < g.threshold {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientSignatures, len(seen), g.threshold)
	}
	return nil
}

// Publisher signs price updates as one guardian.
type Publisher struct {
	signer *crypto.BLSSigner
	index  int
}

func NewPublisher(signer *crypto.BLSSigner, index int) *Publisher {
	return &Publisher{signer: signer, index: index}
}

func (p *Publisher) Sign(u PriceUpdate) GuardianSignature {
	return GuardianSignature{Index: p.index, Signature: p.signer.Sign(u.SigningMessage())}
}
