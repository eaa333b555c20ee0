package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/storage"
)

var (
	mintAuth = common.HexToAddress("0xfeed")
	alice    = common.HexToAddress("0xa11ce")
	bob      = common.HexToAddress("0xb0b")
)

func newTestLedger(t *testing.T) (*Ledger, Mint) {
	t.Helper()
	store, err := storage.NewMemStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	l := New(store)
	var usdc Mint
	_, err = l.Apply(Env{Signers: []common.Address{mintAuth}}, func(tx *Tx) error {
		var err error
		if usdc, err = tx.CreateMint("USDC", 6, mintAuth); err != nil {
			return err
		}
		ta, err := tx.CreateTokenAccount(alice, usdc.Address)
		if err != nil {
			return err
		}
		auth, _ := tx.Signer(mintAuth)
		return tx.MintTo(auth, usdc.Address, ta.Address, 1_000)
	})
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	return l, usdc
}

func balance(t *testing.T, l *Ledger, owner, mint common.Address) uint64 {
	t.Helper()
	var amt uint64
	err := l.View(func(tx *Tx) error {
		ta, err := tx.TokenAccount(AssociatedTokenAddress(owner, mint))
		amt = ta.Amount
		return err
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return amt
}

func TestTransferChecked(t *testing.T) {
	l, usdc := newTestLedger(t)
	from := AssociatedTokenAddress(alice, usdc.Address)
	to := AssociatedTokenAddress(bob, usdc.Address)

	tests := []struct {
		name     string
		signer   common.Address
		amount   uint64
		decimals uint8
		wantErr  error
	}{
		{"wrong decimals", alice, 10, 9, ErrDecimalsMismatch},
		{"not owner", bob, 10, 6, ErrUnauthorized},
		{"insufficient", alice, 1_001, 6, ErrInsufficientFunds},
		{"ok", alice, 400, 6, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Apply(Env{Signers: []common.Address{tt.signer}}, func(tx *Tx) error {
				if _, err := tx.CreateTokenAccountIdempotent(bob, usdc.Address); err != nil {
					return err
				}
				auth, err := tx.Signer(tt.signer)
				if err != nil {
					return err
				}
				return tx.TransferChecked(auth, from, usdc.Address, to, tt.amount, tt.decimals)
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := balance(t, l, alice, usdc.Address); got != 600 {
		t.Errorf("alice = %d, want 600", got)
	}
	if got := balance(t, l, bob, usdc.Address); got != 400 {
		t.Errorf("bob = %d, want 400", got)
	}
}

func TestApplyDiscardsOnError(t *testing.T) {
	l, usdc := newTestLedger(t)
	boom := errors.New("boom")

	_, err := l.Apply(Env{Signers: []common.Address{alice}}, func(tx *Tx) error {
		if _, err := tx.CreateTokenAccount(bob, usdc.Address); err != nil {
			return err
		}
		auth, _ := tx.Signer(alice)
		if err := tx.TransferChecked(auth, AssociatedTokenAddress(alice, usdc.Address), usdc.Address,
			AssociatedTokenAddress(bob, usdc.Address), 500, 6); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if got := balance(t, l, alice, usdc.Address); got != 1_000 {
		t.Errorf("alice = %d after rollback, want 1000", got)
	}
	err = l.View(func(tx *Tx) error {
		_, err := tx.TokenAccount(AssociatedTokenAddress(bob, usdc.Address))
		return err
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("bob's account survived rollback: %v", err)
	}
}

func TestCreateTokenAccountTwice(t *testing.T) {
	l, usdc := newTestLedger(t)
	_, err := l.Apply(Env{}, func(tx *Tx) error {
		_, err := tx.CreateTokenAccount(alice, usdc.Address)
		return err
	})
	if !errors.Is(err, ErrAccountInUse) {
		t.Fatalf("err = %v, want ErrAccountInUse", err)
	}
	_, err = l.Apply(Env{}, func(tx *Tx) error {
		ta, err := tx.CreateTokenAccountIdempotent(alice, usdc.Address)
		if err == nil && ta.Amount != 1_000 {
			t.Errorf("idempotent create returned amount %d", ta.Amount)
		}
		return err
	})
	if err != nil {
		t.Fatalf("idempotent create: %v", err)
	}
}

func TestProgramAuthority(t *testing.T) {
	l, usdc := newTestLedger(t)
	progID := common.HexToAddress("0x9001")
	prog, err := l.RegisterProgram(progID)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := l.RegisterProgram(progID); !errors.Is(err, ErrProgramRegistered) {
		t.Fatalf("second register err = %v", err)
	}
	other, _ := l.RegisterProgram(common.HexToAddress("0x9002"))

	seeds := [][]byte{[]byte("vault")}
	var vault common.Address
	var leaked Authority
	_, err = l.Apply(Env{Signers: []common.Address{alice}}, func(tx *Tx) error {
		inv := prog.Invoke(tx)
		vault = inv.Sign(seeds...).Address()
		vta, err := tx.CreateTokenAccount(vault, usdc.Address)
		if err != nil {
			return err
		}
		auth, _ := tx.Signer(alice)
		if err := tx.TransferChecked(auth, AssociatedTokenAddress(alice, usdc.Address), usdc.Address, vta.Address, 100, 6); err != nil {
			return err
		}
		leaked = inv.Sign(seeds...)
		return nil
	})
	if err != nil {
		t.Fatalf("fund vault: %v", err)
	}

	vaultTA := AssociatedTokenAddress(vault, usdc.Address)
	aliceTA := AssociatedTokenAddress(alice, usdc.Address)
	cases := []struct {
		name string
		auth func(tx *Tx) Authority
		want error
	}{
		{"other program same seeds", func(tx *Tx) Authority { return other.Invoke(tx).Sign(seeds...) }, ErrUnauthorized},
		{"authority from another tx", func(*Tx) Authority { return leaked }, ErrUnauthorized},
		{"zero authority", func(*Tx) Authority { return Authority{} }, ErrUnauthorized},
		{"owning program", func(tx *Tx) Authority { return prog.Invoke(tx).Sign(seeds...) }, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := l.Apply(Env{}, func(tx *Tx) error {
				return tx.TransferChecked(c.auth(tx), vaultTA, usdc.Address, aliceTA, 100, 6)
			})
			if !errors.Is(err, c.want) {
				t.Fatalf("err = %v, want %v", err, c.want)
			}
		})
	}
}

func TestRecordsAndClose(t *testing.T) {
	l, usdc := newTestLedger(t)
	progA, _ := l.RegisterProgram(common.HexToAddress("0xaaaa"))
	progB, _ := l.RegisterProgram(common.HexToAddress("0xbbbb"))

	var recAddr common.Address
	_, err := l.Apply(Env{}, func(tx *Tx) error {
		var err error
		recAddr, err = progA.Invoke(tx).CreateRecord([][]byte{[]byte("r"), {1}}, []byte("hello"))
		if err != nil {
			return err
		}
		_, err = progA.Invoke(tx).CreateRecord([][]byte{[]byte("r"), {1}}, []byte("again"))
		if !errors.Is(err, ErrAccountInUse) {
			t.Errorf("duplicate record err = %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	err = l.View(func(tx *Tx) error {
		if _, err := tx.Record(progB.ID(), recAddr); !errors.Is(err, ErrAccountNotFound) {
			t.Errorf("record visible to another program: %v", err)
		}
		n := 0
		err := tx.Records(progA.ID(), func(r Record) error {
			n++
			if r.Address != recAddr || string(r.Data) != "hello" {
				t.Errorf("record = %+v", r)
			}
			return nil
		})
		if n != 1 {
			t.Errorf("records = %d, want 1", n)
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	// Non-empty token accounts cannot be closed.
	_, err = l.Apply(Env{Signers: []common.Address{alice}}, func(tx *Tx) error {
		auth, _ := tx.Signer(alice)
		return tx.CloseTokenAccount(auth, AssociatedTokenAddress(alice, usdc.Address), alice)
	})
	if !errors.Is(err, ErrNonZeroBalance) {
		t.Errorf("close non-empty err = %v", err)
	}

	events, err := l.Apply(Env{}, func(tx *Tx) error {
		_, err := progA.Invoke(tx).CloseRecord(recAddr)
		tx.Emit("closed", nil)
		return err
	})
	if err != nil || len(events) != 1 {
		t.Fatalf("close record: %v, events %v", err, events)
	}
}

func TestMissingSignature(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Apply(Env{Signers: []common.Address{bob}}, func(tx *Tx) error {
		_, err := tx.Signer(alice)
		return err
	})
	if !errors.Is(err, ErrMissingSignature) {
		t.Errorf("err = %v, want ErrMissingSignature", err)
	}
}
