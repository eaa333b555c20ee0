package crypto

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const programAddressMarker = "ProgramDerivedAddress"

// CreateProgramAddress derives the address a program controls for the given
// seeds. No private key exists for it: only the program itself can authorize
// movements out of accounts owned by such an address.
func CreateProgramAddress(program common.Address, seeds ...[]byte) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(programAddressMarker))
	h.Write(program[:])
	var n [2]byte
	for _, seed := range seeds {
		// length-prefixed so ("ab","c") and ("a","bc") differ
		binary.BigEndian.PutUint16(n[:], uint16(len(seed)))
		h.Write(n[:])
		h.Write(seed)
	}
	return common.BytesToAddress(h.Sum(nil)[12:])
}

// Discriminator returns the 8-byte type tag stored in front of a record.
func Discriminator(name string) [8]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("account:" + name))
	var out [8]byte
	copy(out[:], h.Sum(nil))
	return out
}
