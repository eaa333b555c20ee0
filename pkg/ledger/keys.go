package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema
// Mints and token accounts are keyed by address; records are namespaced by
// their owning program so a program can only ever see its own records.
const (
	prefixMint   = "mint:" // Mint state
	prefixToken  = "tok:"  // Token account state
	prefixRecord = "rec:"  // Program-owned record data
)

// Format: "mint:{address}"
func mintKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixMint, addr.Hex()))
}

// Format: "tok:{address}"
func tokenKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixToken, addr.Hex()))
}

// Format: "rec:{program}:{address}"
func recordKey(program, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixRecord, program.Hex(), addr.Hex()))
}

// Format: "rec:{program}:"
func recordPrefix(program common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixRecord, program.Hex()))
}

// recordAddrFromKey extracts the record address from a record key.
func recordAddrFromKey(key []byte) (common.Address, error) {
	const hexLen = 42 // "0x" + 40 hex chars
	if len(key) < hexLen {
		return common.Address{}, fmt.Errorf("invalid record key length: %d", len(key))
	}
	addrHex := string(key[len(key)-hexLen:])
	if !common.IsHexAddress(addrHex) {
		return common.Address{}, fmt.Errorf("invalid address in key: %s", addrHex)
	}
	return common.HexToAddress(addrHex), nil
}
