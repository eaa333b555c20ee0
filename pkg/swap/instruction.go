package swap

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const (
	InstructionVersion = 1
	InstructionLen     = 1 + 1 + 4*common.AddressLength + 8 + 8
)

var ErrInvalidInstruction = errors.New("invalid swap instruction")

// Direction tags which kind of order produced a swap.
type Direction uint8

const (
	DirectionTakeProfit Direction = 0x00
	DirectionStopLoss   Direction = 0x01
)

// Instruction is the complete request handed to an Executor.
// Source is debited by the signing authority; Destination receives at least
// MinOut of OutputMint.
type Instruction struct {
	Direction   Direction
	InputMint   common.Address
	OutputMint  common.Address
	Source      common.Address
	Destination common.Address
	Amount      uint64
	MinOut      uint64
}

// Encode lays the instruction out as
// [version][direction][input mint][output mint][source][destination][amount LE][min out LE].
func (in Instruction) Encode() []byte {
	buf := make([]byte, 0, InstructionLen)
	buf = append(buf, InstructionVersion, byte(in.Direction))
	buf = append(buf, in.InputMint[:]...)
	buf = append(buf, in.OutputMint[:]...)
	buf = append(buf, in.Source[:]...)
	buf = append(buf, in.Destination[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, in.Amount)
	buf = binary.LittleEndian.AppendUint64(buf, in.MinOut)
	return buf
}

func DecodeInstruction(b []byte) (Instruction, error) {
	if len(b) != InstructionLen {
		return Instruction{}, fmt.Errorf("%w: length %d", ErrInvalidInstruction, len(b))
	}
	if b[0] != InstructionVersion {
		return Instruction{}, fmt.Errorf("%w: version %d", ErrInvalidInstruction, b[0])
	}
	in := Instruction{Direction: Direction(b[1])}
	if in.Direction != DirectionTakeProfit && in.Direction != DirectionStopLoss {
		return Instruction{}, fmt.Errorf("%w: direction %d", ErrInvalidInstruction, b[1])
	}
	off := 2
	for _, dst := range []*common.Address{&in.InputMint, &in.OutputMint, &in.Source, &in.Destination} {
		copy(dst[:], b[off:off+common.AddressLength])
		off += common.AddressLength
	}
	in.Amount = binary.LittleEndian.Uint64(b[off:])
	in.MinOut = binary.LittleEndian.Uint64(b[off+8:])
	return in, nil
}
