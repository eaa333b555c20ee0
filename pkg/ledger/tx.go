package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/storage"
)

// Tx is the view of ledger state inside one Apply.
type Tx struct {
	batch  *storage.Batch
	env    Env
	events []Event
}

func newTx(batch *storage.Batch, env Env) *Tx {
	return &Tx{batch: batch, env: env}
}

// Now returns ledger time in unix seconds.
func (tx *Tx) Now() int64 { return tx.env.Time }

// Signer returns an authority for addr if addr signed the enclosing request.
func (tx *Tx) Signer(addr common.Address) (Authority, error) {
	for _, s := range tx.env.Signers {
		if s == addr {
			return Authority{kind: authSigner, tx: tx, signer: addr}, nil
		}
	}
	return Authority{}, fmt.Errorf("%w: %s", ErrMissingSignature, addr.Hex())
}

// Emit records an event that is returned from Apply on success.
func (tx *Tx) Emit(typ string, attrs map[string]string) {
	tx.events = append(tx.events, Event{Type: typ, Attrs: attrs})
}

// ============================================================================
// Records
// ============================================================================

func (tx *Tx) Record(program, addr common.Address) (Record, error) {
	data, err := tx.batch.Get(recordKey(program, addr))
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: record %s", ErrAccountNotFound, addr.Hex())
	}
	if err != nil {
		return Record{}, err
	}
	return Record{Address: addr, Program: program, Data: data}, nil
}

// Records visits every record owned by program.
func (tx *Tx) Records(program common.Address, fn func(Record) error) error {
	return tx.batch.Scan(recordPrefix(program), func(key, val []byte) error {
		addr, err := recordAddrFromKey(key)
		if err != nil {
			return err
		}
		return fn(Record{Address: addr, Program: program, Data: append([]byte(nil), val...)})
	})
}

// ============================================================================
// Mints
// ============================================================================

// CreateMint registers a new asset. authority may later mint supply.
func (tx *Tx) CreateMint(symbol string, decimals uint8, authority common.Address) (Mint, error) {
	m := Mint{Address: MintAddress(symbol), Symbol: symbol, Decimals: decimals, Authority: authority}
	exists, err := tx.batch.Has(mintKey(m.Address))
	if err != nil {
		return Mint{}, err
	}
	if exists {
		return Mint{}, fmt.Errorf("%w: mint %s", ErrAccountInUse, symbol)
	}
	return m, tx.putJSON(mintKey(m.Address), m)
}

func (tx *Tx) Mint(addr common.Address) (Mint, error) {
	var m Mint
	if err := tx.getJSON(mintKey(addr), &m); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Mint{}, fmt.Errorf("%w: %s", ErrMintNotFound, addr.Hex())
		}
		return Mint{}, err
	}
	return m, nil
}

// Mints visits every mint in address order.
func (tx *Tx) Mints(fn func(Mint) error) error {
	return tx.batch.Scan([]byte(prefixMint), func(_, val []byte) error {
		var m Mint
		if err := json.Unmarshal(val, &m); err != nil {
			return fmt.Errorf("failed to unmarshal mint: %w", err)
		}
		return fn(m)
	})
}

// MintTo creates new supply into a token account.
func (tx *Tx) MintTo(auth Authority, mint, to common.Address, amount uint64) error {
	m, err := tx.Mint(mint)
	if err != nil {
		return err
	}
	if !auth.controls(tx, m.Authority) {
		return fmt.Errorf("%w: mint authority %s", ErrUnauthorized, m.Authority.Hex())
	}
	dst, err := tx.TokenAccount(to)
	if err != nil {
		return err
	}
	if dst.Mint != mint {
		return ErrMintMismatch
	}
	if m.Supply > math.MaxUint64-amount || dst.Amount > math.MaxUint64-amount {
		return ErrOverflow
	}
	m.Supply += amount
	dst.Amount += amount
	if err := tx.putJSON(mintKey(mint), m); err != nil {
		return err
	}
	return tx.putJSON(tokenKey(to), dst)
}

// ============================================================================
// Token accounts
// ============================================================================

func (tx *Tx) TokenAccount(addr common.Address) (TokenAccount, error) {
	var ta TokenAccount
	if err := tx.getJSON(tokenKey(addr), &ta); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TokenAccount{}, fmt.Errorf("%w: token account %s", ErrAccountNotFound, addr.Hex())
		}
		return TokenAccount{}, err
	}
	return ta, nil
}

// CreateTokenAccount creates the associated token account of (owner, mint).
// Fails with ErrAccountInUse if it already exists.
func (tx *Tx) CreateTokenAccount(owner, mint common.Address) (TokenAccount, error) {
	if _, err := tx.Mint(mint); err != nil {
		return TokenAccount{}, err
	}
	addr := AssociatedTokenAddress(owner, mint)
	exists, err := tx.batch.Has(tokenKey(addr))
	if err != nil {
		return TokenAccount{}, err
	}
	if exists {
		return TokenAccount{}, fmt.Errorf("%w: token account %s", ErrAccountInUse, addr.Hex())
	}
	ta := TokenAccount{Address: addr, Mint: mint, Owner: owner}
	return ta, tx.putJSON(tokenKey(addr), ta)
}

// CreateTokenAccountIdempotent returns the associated token account of
// (owner, mint), creating it if needed.
func (tx *Tx) CreateTokenAccountIdempotent(owner, mint common.Address) (TokenAccount, error) {
	ta, err := tx.TokenAccount(AssociatedTokenAddress(owner, mint))
	if err == nil {
		if ta.Mint != mint || ta.Owner != owner {
			return TokenAccount{}, fmt.Errorf("%w: token account %s", ErrAccountInUse, ta.Address.Hex())
		}
		return ta, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return TokenAccount{}, err
	}
	return tx.CreateTokenAccount(owner, mint)
}

// TransferChecked moves amount of mint from one token account to another.
// Both accounts must hold mint, decimals must equal the mint's, and auth must
// control the source account's owner.
func (tx *Tx) TransferChecked(auth Authority, from, mint, to common.Address, amount uint64, decimals uint8) error {
	m, err := tx.Mint(mint)
	if err != nil {
		return err
	}
	if m.Decimals != decimals {
		return fmt.Errorf("%w: got %d, mint has %d", ErrDecimalsMismatch, decimals, m.Decimals)
	}
	src, err := tx.TokenAccount(from)
	if err != nil {
		return err
	}
	dst, err := tx.TokenAccount(to)
	if err != nil {
		return err
	}
	if src.Mint != mint || dst.Mint != mint {
		return ErrMintMismatch
	}
	if !auth.controls(tx, src.Owner) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, src.Owner.Hex())
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	if from == to {
		return nil
	}
	if dst.Amount > math.MaxUint64-amount {
		return ErrOverflow
	}
	src.Amount -= amount
	dst.Amount += amount
	if err := tx.putJSON(tokenKey(from), src); err != nil {
		return err
	}
	if err := tx.putJSON(tokenKey(to), dst); err != nil {
		return err
	}
	tx.Emit("transfer", map[string]string{
		"mint":   mint.Hex(),
		"from":   from.Hex(),
		"to":     to.Hex(),
		"amount": strconv.FormatUint(amount, 10),
	})
	return nil
}

// CloseTokenAccount deletes an empty token account. The owner's authority is
// required; recipient is credited with the released account.
func (tx *Tx) CloseTokenAccount(auth Authority, account, recipient common.Address) error {
	ta, err := tx.TokenAccount(account)
	if err != nil {
		return err
	}
	if !auth.controls(tx, ta.Owner) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, ta.Owner.Hex())
	}
	if ta.Amount != 0 {
		return fmt.Errorf("%w: %d", ErrNonZeroBalance, ta.Amount)
	}
	if err := tx.batch.Delete(tokenKey(account)); err != nil {
		return err
	}
	tx.Emit("token_account_closed", map[string]string{
		"account":   account.Hex(),
		"recipient": recipient.Hex(),
	})
	return nil
}

// Balances returns owner's associated token accounts, one per existing mint.
func (tx *Tx) Balances(owner common.Address) ([]TokenAccount, error) {
	var out []TokenAccount
	err := tx.Mints(func(m Mint) error {
		ta, err := tx.TokenAccount(AssociatedTokenAddress(owner, m.Address))
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, ta)
		return nil
	})
	return out, err
}

func (tx *Tx) getJSON(key []byte, v any) error {
	data, err := tx.batch.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (tx *Tx) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return tx.batch.Set(key, data)
}
