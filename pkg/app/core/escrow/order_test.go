package escrow

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/ledger"
)

func TestOrderTypeCheck(t *testing.T) {
	if err := OrderType(2).Check(1, 1); !errors.Is(err, ErrInvalidOrderType) {
		t.Errorf("unknown variant err = %v", err)
	}
	if err := TakeProfit.Check(-5, -6); err != nil {
		t.Errorf("negative prices: %v", err)
	}
	if err := StopLoss.Check(-5, -6); !errors.Is(err, ErrPriceTooHigh) {
		t.Errorf("negative stop loss err = %v", err)
	}
}

func TestOrderTypeText(t *testing.T) {
	b, err := json.Marshal(struct{ T OrderType }{StopLoss})
	if err != nil || string(b) != `{"T":"stop_loss"}` {
		t.Fatalf("marshal = %s, %v", b, err)
	}
	var v struct{ T OrderType }
	if err := json.Unmarshal([]byte(`{"T":"take_profit"}`), &v); err != nil || v.T != TakeProfit {
		t.Fatalf("unmarshal = %v, %v", v.T, err)
	}
	if _, err := json.Marshal(OrderType(5)); err == nil {
		t.Error("invalid order type marshalled")
	}
}

func TestEscrowRecordLayout(t *testing.T) {
	e := Escrow{
		Owner:        common.HexToAddress("0x01"),
		OrderID:      1<<40 + 3,
		InputMint:    common.HexToAddress("0x02"),
		OutputMint:   common.HexToAddress("0x03"),
		Amount:       1000,
		TriggerPrice: -150_00,
		OrderType:    StopLoss,
	}
	b := e.MarshalRecord()
	if len(b) != 93 || EscrowRecordLen != 93 {
		t.Fatalf("record length = %d", len(b))
	}
	addr := Address(e.Owner, e.OrderID)
	got, err := UnmarshalRecord(addr, b)
	e.Address = addr
	if err != nil || got != e {
		t.Fatalf("decode = %+v, %v", got, err)
	}

	if _, err := UnmarshalRecord(addr, b[:92]); !errors.Is(err, ErrCorruptEscrow) {
		t.Errorf("short record err = %v", err)
	}
	b[3] ^= 1
	if _, err := UnmarshalRecord(addr, b); !errors.Is(err, ErrCorruptEscrow) {
		t.Errorf("bad discriminator err = %v", err)
	}
}

func TestEscrowAddressDerivation(t *testing.T) {
	owner := common.HexToAddress("0x01")
	if Address(owner, 1) == Address(owner, 2) {
		t.Error("order ids share an address")
	}
	if Address(owner, 1) == Address(common.HexToAddress("0x02"), 1) {
		t.Error("owners share an address")
	}
	mint := common.HexToAddress("0x0a")
	if CustodyAddress(owner, 1, mint) != ledger.AssociatedTokenAddress(Address(owner, 1), mint) {
		t.Error("custody is not the escrow's associated token account")
	}
}
