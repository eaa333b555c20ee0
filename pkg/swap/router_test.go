package swap

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tpsl/pkg/ledger"
	"github.com/uhyunpark/tpsl/pkg/storage"
)

var (
	issuer = common.HexToAddress("0x1551")
	trader = common.HexToAddress("0x7ade")
)

type fixture struct {
	l         *ledger.Ledger
	r         *Router
	sol, usdc ledger.Mint
}

func newFixture(t *testing.T, liquidity uint64) *fixture {
	t.Helper()
	store, err := storage.NewMemStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{l: ledger.New(store)}
	if f.r, err = NewRouter(f.l); err != nil {
		t.Fatalf("router: %v", err)
	}
	_, err = f.l.Apply(ledger.Env{Signers: []common.Address{issuer}}, func(tx *ledger.Tx) error {
		var err error
		if f.sol, err = tx.CreateMint("SOL", 9, issuer); err != nil {
			return err
		}
		if f.usdc, err = tx.CreateMint("USDC", 6, issuer); err != nil {
			return err
		}
		if err := f.r.CreatePool(tx, Pool{InputMint: f.sol.Address, OutputMint: f.usdc.Address, Rate: decimal.RequireFromString("151.5")}); err != nil {
			return err
		}
		auth, _ := tx.Signer(issuer)
		ta, err := tx.CreateTokenAccount(trader, f.sol.Address)
		if err != nil {
			return err
		}
		if _, err := tx.CreateTokenAccount(trader, f.usdc.Address); err != nil {
			return err
		}
		if err := tx.MintTo(auth, f.sol.Address, ta.Address, 10_000_000_000); err != nil {
			return err
		}
		vault := ledger.AssociatedTokenAddress(f.r.VaultOwner(tx), f.usdc.Address)
		return tx.MintTo(auth, f.usdc.Address, vault, liquidity)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return f
}

func (f *fixture) instruction(amount, minOut uint64) Instruction {
	return Instruction{
		Direction:   DirectionTakeProfit,
		InputMint:   f.sol.Address,
		OutputMint:  f.usdc.Address,
		Source:      ledger.AssociatedTokenAddress(trader, f.sol.Address),
		Destination: ledger.AssociatedTokenAddress(trader, f.usdc.Address),
		Amount:      amount,
		MinOut:      minOut,
	}
}

func (f *fixture) execute(signer common.Address, in Instruction) (uint64, error) {
	var out uint64
	_, err := f.l.Apply(ledger.Env{Signers: []common.Address{signer}}, func(tx *ledger.Tx) error {
		auth, err := tx.Signer(signer)
		if err != nil {
			return err
		}
		out, err = f.r.Execute(tx, auth, in.Encode())
		return err
	})
	return out, err
}

func TestExecute(t *testing.T) {
	f := newFixture(t, 1_000_000_000)

	// 2 SOL at 151.5 = 303 USDC
	out, err := f.execute(trader, f.instruction(2_000_000_000, 303_000_000))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != 303_000_000 {
		t.Errorf("out = %d, want 303000000", out)
	}

	err = f.l.View(func(tx *ledger.Tx) error {
		ta, err := tx.TokenAccount(ledger.AssociatedTokenAddress(trader, f.usdc.Address))
		if err == nil && ta.Amount != 303_000_000 {
			t.Errorf("trader usdc = %d", ta.Amount)
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExecuteErrors(t *testing.T) {
	f := newFixture(t, 100_000_000)

	noRoute := f.instruction(1_000, 0)
	noRoute.InputMint, noRoute.OutputMint = f.usdc.Address, f.sol.Address

	tests := []struct {
		name   string
		signer common.Address
		in     Instruction
		want   error
	}{
		{"slippage", trader, f.instruction(1_000_000_000, 151_500_001), ErrSlippage},
		{"dust rounds to zero", trader, f.instruction(1, 0), ErrSlippage},
		{"liquidity", trader, f.instruction(1_000_000_000, 0), ErrInsufficientLiquidity},
		{"not owner", issuer, f.instruction(1_000, 0), ErrUnauthorized},
		{"no route", trader, noRoute, ErrNoRoute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.execute(tt.signer, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestInstructionEncoding(t *testing.T) {
	in := Instruction{
		Direction:   DirectionStopLoss,
		InputMint:   common.HexToAddress("0x01"),
		OutputMint:  common.HexToAddress("0x02"),
		Source:      common.HexToAddress("0x03"),
		Destination: common.HexToAddress("0x04"),
		Amount:      1000,
		MinOut:      7,
	}
	b := in.Encode()
	if len(b) != InstructionLen || b[0] != InstructionVersion || b[1] != 0x01 {
		t.Fatalf("header = % x, len %d", b[:2], len(b))
	}
	got, err := DecodeInstruction(b)
	if err != nil || got != in {
		t.Fatalf("decode = %+v, %v", got, err)
	}

	for name, bad := range map[string][]byte{
		"short":     b[:10],
		"version":   append([]byte{2}, b[1:]...),
		"direction": append([]byte{1, 9}, b[2:]...),
	} {
		if _, err := DecodeInstruction(bad); !errors.Is(err, ErrInvalidInstruction) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}
