package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/crypto"
	"github.com/uhyunpark/tpsl/pkg/swap"
)

var (
	ErrPriceTooLow      = errors.New("price below take-profit trigger")
	ErrPriceTooHigh     = errors.New("price above stop-loss trigger")
	ErrInvalidOrderType = errors.New("invalid order type")
	ErrStalePrice       = errors.New("stale price")
	ErrEscrowNotFound   = errors.New("escrow not found")
	ErrOrderExists      = errors.New("order id already in use")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrSameMint         = errors.New("input and output mint must differ")
	ErrCorruptEscrow    = errors.New("corrupt escrow record")
)

// OrderType decides which side of the trigger settles an order.
type OrderType uint8

const (
	TakeProfit OrderType = 0 // settle when price >= trigger
	StopLoss   OrderType = 1 // settle when price <= trigger
)

func (t OrderType) Valid() bool { return t == TakeProfit || t == StopLoss }

func (t OrderType) String() string {
	switch t {
	case TakeProfit:
		return "take_profit"
	case StopLoss:
		return "stop_loss"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func ParseOrderType(s string) (OrderType, error) {
	switch s {
	case "take_profit", "tp", "TP":
		return TakeProfit, nil
	case "stop_loss", "sl", "SL":
		return StopLoss, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidOrderType, s)
	}
}

func (t OrderType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOrderType, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *OrderType) UnmarshalText(b []byte) error {
	v, err := ParseOrderType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Check reports whether price satisfies the trigger for this order type.
func (t OrderType) Check(price, trigger int64) error {
	switch t {
	case TakeProfit:
		if price >= trigger {
			return nil
		}
		return fmt.Errorf("%w: price %d, trigger %d", ErrPriceTooLow, price, trigger)
	case StopLoss:
		if price <= trigger {
			return nil
		}
		return fmt.Errorf("%w: price %d, trigger %d", ErrPriceTooHigh, price, trigger)
	default:
		return fmt.Errorf("%w: %d", ErrInvalidOrderType, uint8(t))
	}
}

// Direction maps the order type to the swap selector.
func (t OrderType) Direction() swap.Direction {
	if t == StopLoss {
		return swap.DirectionStopLoss
	}
	return swap.DirectionTakeProfit
}

// Escrow is one conditional order. Address is derived, not stored.
type Escrow struct {
	Address      common.Address `json:"address"`
	Owner        common.Address `json:"owner"`
	OrderID      uint64         `json:"orderId"`
	InputMint    common.Address `json:"inputMint"`
	OutputMint   common.Address `json:"outputMint"`
	Amount       uint64         `json:"amount"`
	TriggerPrice int64          `json:"triggerPrice"`
	OrderType    OrderType      `json:"orderType"`
}

var escrowDiscriminator = crypto.Discriminator("Escrow")

// disc(8) owner(20) input(20) output(20) order_id(8) amount(8) trigger(8) type(1)
const EscrowRecordLen = 8 + 3*common.AddressLength + 8 + 8 + 8 + 1

func (e Escrow) MarshalRecord() []byte {
	buf := make([]byte, 0, EscrowRecordLen)
	buf = append(buf, escrowDiscriminator[:]...)
	buf = append(buf, e.Owner[:]...)
	buf = append(buf, e.InputMint[:]...)
	buf = append(buf, e.OutputMint[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, e.OrderID)
	buf = binary.LittleEndian.AppendUint64(buf, e.Amount)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.TriggerPrice))
	return append(buf, byte(e.OrderType))
}

// UnmarshalRecord decodes a stored escrow. The order type byte is kept as is
// so that settlement can reject unknown variants explicitly.
func UnmarshalRecord(addr common.Address, data []byte) (Escrow, error) {
	if len(data) != EscrowRecordLen {
		return Escrow{}, fmt.Errorf("%w: length %d", ErrCorruptEscrow, len(data))
	}
	if [8]byte(data[:8]) != escrowDiscriminator {
		return Escrow{}, fmt.Errorf("%w: bad discriminator", ErrCorruptEscrow)
	}
	e := Escrow{Address: addr}
	off := 8
	for _, dst := range []*common.Address{&e.Owner, &e.InputMint, &e.OutputMint} {
		copy(dst[:], data[off:off+common.AddressLength])
		off += common.AddressLength
	}
	e.OrderID = binary.LittleEndian.Uint64(data[off:])
	e.Amount = binary.LittleEndian.Uint64(data[off+8:])
	e.TriggerPrice = int64(binary.LittleEndian.Uint64(data[off+16:]))
	e.OrderType = OrderType(data[off+24])
	return e, nil
}
