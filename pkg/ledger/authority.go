package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/crypto"
)

type authorityKind uint8

const (
	authNone authorityKind = iota
	authSigner
	authProgram
)

// Authority is proof that the holder may act for an address within one Tx.
// Only Tx.Signer and Invocation.Sign produce valid values; the zero value
// controls nothing.
type Authority struct {
	kind    authorityKind
	tx      *Tx
	signer  common.Address
	program common.Address
	seeds   [][]byte
}

// Address returns the address this authority acts for. Program authorities
// re-derive it from their seeds on every call.
func (a Authority) Address() common.Address {
	switch a.kind {
	case authSigner:
		return a.signer
	case authProgram:
		return crypto.CreateProgramAddress(a.program, a.seeds...)
	default:
		return common.Address{}
	}
}

func (a Authority) controls(tx *Tx, addr common.Address) bool {
	return a.kind != authNone && a.tx == tx && a.Address() == addr
}
