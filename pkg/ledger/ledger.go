package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/storage"
)

var (
	ErrAccountInUse      = errors.New("account already in use")
	ErrAccountNotFound   = errors.New("account not found")
	ErrMintNotFound      = errors.New("mint not found")
	ErrMissingSignature  = errors.New("missing required signature")
	ErrUnauthorized      = errors.New("authority does not control account")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMintMismatch      = errors.New("token account mint mismatch")
	ErrDecimalsMismatch  = errors.New("decimals mismatch")
	ErrNonZeroBalance    = errors.New("token account balance is not zero")
	ErrOverflow          = errors.New("amount overflow")
	ErrProgramRegistered = errors.New("program already registered")
)

// Env is the execution context of one Apply: ledger time in unix seconds and
// the addresses whose signatures the caller has already verified.
type Env struct {
	Time    int64
	Signers []common.Address
}

// Ledger is the state substrate shared by every program.
// Apply calls are serialized; each runs in its own indexed batch that is
// committed only when the callback succeeds.
type Ledger struct {
	store *storage.PebbleStore

	mu sync.Mutex // serializes Apply

	regMu    sync.Mutex
	programs map[common.Address]bool
}

func New(store *storage.PebbleStore) *Ledger {
	return &Ledger{
		store:    store,
		programs: make(map[common.Address]bool),
	}
}

// Apply runs fn atomically. On error nothing fn wrote is persisted.
// Events emitted by fn are returned only on success.
func (l *Ledger) Apply(env Env, fn func(tx *Tx) error) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := l.store.NewBatch()
	defer batch.Close()

	tx := newTx(batch, env)
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return tx.events, nil
}

// View runs fn against committed state. Writes made by fn are discarded.
func (l *Ledger) View(fn func(tx *Tx) error) error {
	batch := l.store.NewBatch()
	defer batch.Close()
	return fn(newTx(batch, Env{}))
}

// RegisterProgram hands out the capability to act as program id. Each ID can
// be registered once per ledger.
func (l *Ledger) RegisterProgram(id common.Address) (*Program, error) {
	l.regMu.Lock()
	defer l.regMu.Unlock()
	if l.programs[id] {
		return nil, fmt.Errorf("%w: %s", ErrProgramRegistered, id.Hex())
	}
	l.programs[id] = true
	return &Program{id: id}, nil
}

// Program is the capability of one program ID.
type Program struct {
	id common.Address
}

func (p *Program) ID() common.Address { return p.id }

// Invoke binds the program to a transaction.
func (p *Program) Invoke(tx *Tx) *Invocation {
	return &Invocation{program: p.id, tx: tx}
}

// Invocation is a program acting within one Tx.
type Invocation struct {
	program common.Address
	tx      *Tx
}

func (inv *Invocation) Program() common.Address { return inv.program }

// Sign returns an authority for the program-derived address of seeds.
func (inv *Invocation) Sign(seeds ...[]byte) Authority {
	return Authority{kind: authProgram, tx: inv.tx, program: inv.program, seeds: seeds}
}

// CreateRecord stores data at the program-derived address of seeds.
// Fails with ErrAccountInUse if a record already exists there.
func (inv *Invocation) CreateRecord(seeds [][]byte, data []byte) (common.Address, error) {
	addr := inv.Sign(seeds...).Address()
	key := recordKey(inv.program, addr)
	exists, err := inv.tx.batch.Has(key)
	if err != nil {
		return common.Address{}, err
	}
	if exists {
		return common.Address{}, fmt.Errorf("%w: record %s", ErrAccountInUse, addr.Hex())
	}
	if err := inv.tx.batch.Set(key, data); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// PutRecord creates or overwrites the record at the address of seeds.
func (inv *Invocation) PutRecord(seeds [][]byte, data []byte) (common.Address, error) {
	addr := inv.Sign(seeds...).Address()
	if err := inv.tx.batch.Set(recordKey(inv.program, addr), data); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// CloseRecord deletes a record owned by the program and returns its data.
func (inv *Invocation) CloseRecord(addr common.Address) ([]byte, error) {
	rec, err := inv.tx.Record(inv.program, addr)
	if err != nil {
		return nil, err
	}
	if err := inv.tx.batch.Delete(recordKey(inv.program, addr)); err != nil {
		return nil, err
	}
	return rec.Data, nil
}
