package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/crypto"
)

// Well-known program IDs.
var (
	TokenProgramID           = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	AssociatedTokenProgramID = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

// Mint describes a fungible asset.
type Mint struct {
	Address   common.Address `json:"address"`
	Symbol    string         `json:"symbol"`
	Decimals  uint8          `json:"decimals"`
	Supply    uint64         `json:"supply"`
	Authority common.Address `json:"authority"` // may mint new supply
}

// TokenAccount holds a balance of one mint for one owner.
type TokenAccount struct {
	Address common.Address `json:"address"`
	Mint    common.Address `json:"mint"`
	Owner   common.Address `json:"owner"`
	Amount  uint64         `json:"amount"`
}

// Record is an opaque data account owned by a program.
type Record struct {
	Address common.Address
	Program common.Address
	Data    []byte
}

// AssociatedTokenAddress returns the canonical token account of owner for mint.
func AssociatedTokenAddress(owner, mint common.Address) common.Address {
	return crypto.CreateProgramAddress(AssociatedTokenProgramID, owner[:], TokenProgramID[:], mint[:])
}

// MintAddress returns the deterministic address of a mint created by symbol.
func MintAddress(symbol string) common.Address {
	return crypto.CreateProgramAddress(TokenProgramID, []byte("mint"), []byte(symbol))
}

// Event is emitted by ledger operations and collected per Apply.
type Event struct {
	Type  string            `json:"type"`
	Attrs map[string]string `json:"attrs,omitempty"`
}
