package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/crypto"
	"github.com/uhyunpark/tpsl/pkg/ledger"
	"github.com/uhyunpark/tpsl/pkg/oracle"
	"github.com/uhyunpark/tpsl/pkg/swap"
)

// ProgramID owns every escrow record and, through derived authorities, every
// custody account.
var ProgramID = common.HexToAddress("0x00000000000000000000000000000000000000d0")

const escrowSeedLabel = "tpsl-escrow"

// Seeds returns the derivation seeds of the escrow for (owner, orderID).
// The same seeds address the record and sign for its custody account.
func Seeds(owner common.Address, orderID uint64) [][]byte {
	id := binary.LittleEndian.AppendUint64(nil, orderID)
	return [][]byte{[]byte(escrowSeedLabel), owner[:], id}
}

// Address returns the escrow address for (owner, orderID).
func Address(owner common.Address, orderID uint64) common.Address {
	return crypto.CreateProgramAddress(ProgramID, Seeds(owner, orderID)...)
}

// CustodyAddress returns the token account holding the escrowed input.
func CustodyAddress(owner common.Address, orderID uint64, inputMint common.Address) common.Address {
	return ledger.AssociatedTokenAddress(Address(owner, orderID), inputMint)
}

type Config struct {
	FeedID      common.Hash
	MaxPriceAge uint64 // seconds
}

type OpenRequest struct {
	Owner        common.Address
	OrderID      uint64
	InputMint    common.Address
	OutputMint   common.Address
	Amount       uint64
	TriggerPrice int64
	OrderType    OrderType
}

type SettleRequest struct {
	Caller  common.Address
	Owner   common.Address
	OrderID uint64
	MinOut  uint64 // lower bound on swap output, chosen by the caller
}

// Settlement is the outcome of a successful Settle.
type Settlement struct {
	Escrow        Escrow
	Price         oracle.Price
	AmountOut     uint64
	RentRecipient common.Address
}

type Program struct {
	prog    *ledger.Program
	cfg     Config
	feed    oracle.Feed
	swapper swap.Executor
}

func NewProgram(l *ledger.Ledger, cfg Config, feed oracle.Feed, swapper swap.Executor) (*Program, error) {
	prog, err := l.RegisterProgram(ProgramID)
	if err != nil {
		return nil, err
	}
	return &Program{prog: prog, cfg: cfg, feed: feed, swapper: swapper}, nil
}

func (p *Program) Config() Config { return p.cfg }

// Open creates the escrow record and its custody account, then moves Amount
// of InputMint from the owner's token account into custody.
func (p *Program) Open(tx *ledger.Tx, req OpenRequest) (Escrow, error) {
	if !req.OrderType.Valid() {
		return Escrow{}, fmt.Errorf("%w: %d", ErrInvalidOrderType, uint8(req.OrderType))
	}
	if req.Amount == 0 {
		return Escrow{}, ErrInvalidAmount
	}
	if req.InputMint == req.OutputMint {
		return Escrow{}, ErrSameMint
	}
	owner, err := tx.Signer(req.Owner)
	if err != nil {
		return Escrow{}, err
	}
	in, err := tx.Mint(req.InputMint)
	if err != nil {
		return Escrow{}, err
	}
	if _, err := tx.Mint(req.OutputMint); err != nil {
		return Escrow{}, err
	}

	e := Escrow{
		Owner:        req.Owner,
		OrderID:      req.OrderID,
		InputMint:    req.InputMint,
		OutputMint:   req.OutputMint,
		Amount:       req.Amount,
		TriggerPrice: req.TriggerPrice,
		OrderType:    req.OrderType,
	}
	inv := p.prog.Invoke(tx)
	e.Address, err = inv.CreateRecord(Seeds(req.Owner, req.OrderID), e.MarshalRecord())
	if errors.Is(err, ledger.ErrAccountInUse) {
		return Escrow{}, fmt.Errorf("%w: %w", ErrOrderExists, err)
	}
	if err != nil {
		return Escrow{}, err
	}

	custody, err := tx.CreateTokenAccount(e.Address, req.InputMint)
	if err != nil {
		return Escrow{}, err
	}
	from := ledger.AssociatedTokenAddress(req.Owner, req.InputMint)
	if err := tx.TransferChecked(owner, from, req.InputMint, custody.Address, req.Amount, in.Decimals); err != nil {
		return Escrow{}, err
	}

	tx.Emit("escrow_opened", escrowAttrs(e))
	return e, nil
}

// Settle executes the order if the fresh oracle price satisfies its trigger.
// Anyone may call it; funds move only under the escrow's own authority.
func (p *Program) Settle(tx *ledger.Tx, req SettleRequest) (Settlement, error) {
	if _, err := tx.Signer(req.Caller); err != nil {
		return Settlement{}, err
	}
	e, err := p.Get(tx, req.Owner, req.OrderID)
	if err != nil {
		return Settlement{}, err
	}

	price, err := p.feed.PriceNoOlderThan(tx, p.cfg.FeedID, p.cfg.MaxPriceAge)
	if errors.Is(err, oracle.ErrPriceTooOld) {
		return Settlement{}, fmt.Errorf("%w: %w", ErrStalePrice, err)
	}
	if err != nil {
		return Settlement{}, fmt.Errorf("read price: %w", err)
	}
	if err := e.OrderType.Check(price.Price, e.TriggerPrice); err != nil {
		return Settlement{}, err
	}

	inv := p.prog.Invoke(tx)
	auth := inv.Sign(Seeds(e.Owner, e.OrderID)...)
	custody := ledger.AssociatedTokenAddress(e.Address, e.InputMint)
	dest, err := tx.CreateTokenAccountIdempotent(e.Owner, e.OutputMint)
	if err != nil {
		return Settlement{}, err
	}

	payload := swap.Instruction{
		Direction:   e.OrderType.Direction(),
		InputMint:   e.InputMint,
		OutputMint:  e.OutputMint,
		Source:      custody,
		Destination: dest.Address,
		Amount:      e.Amount,
		MinOut:      req.MinOut,
	}.Encode()
	out, err := p.swapper.Execute(tx, auth, payload)
	if err != nil {
		return Settlement{}, fmt.Errorf("swap: %w", err)
	}

	if err := tx.CloseTokenAccount(auth, custody, e.Owner); err != nil {
		return Settlement{}, err
	}
	if _, err := inv.CloseRecord(e.Address); err != nil {
		return Settlement{}, err
	}

	attrs := escrowAttrs(e)
	attrs["caller"] = req.Caller.Hex()
	attrs["price"] = strconv.FormatInt(price.Price, 10)
	attrs["publish_time"] = strconv.FormatInt(price.PublishTime, 10)
	attrs["amount_out"] = strconv.FormatUint(out, 10)
	attrs["rent_recipient"] = e.Owner.Hex()
	tx.Emit("escrow_settled", attrs)

	return Settlement{Escrow: e, Price: price, AmountOut: out, RentRecipient: e.Owner}, nil
}

// Get loads the escrow for (owner, orderID).
func (p *Program) Get(tx *ledger.Tx, owner common.Address, orderID uint64) (Escrow, error) {
	addr := Address(owner, orderID)
	rec, err := tx.Record(ProgramID, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return Escrow{}, fmt.Errorf("%w: owner %s order %d", ErrEscrowNotFound, owner.Hex(), orderID)
	}
	if err != nil {
		return Escrow{}, err
	}
	return UnmarshalRecord(addr, rec.Data)
}

// OpenEscrows visits every open escrow. Corrupt records are skipped.
func (p *Program) OpenEscrows(tx *ledger.Tx, fn func(Escrow) error) error {
	return tx.Records(ProgramID, func(r ledger.Record) error {
		e, err := UnmarshalRecord(r.Address, r.Data)
		if err != nil {
			return nil
		}
		return fn(e)
	})
}

func escrowAttrs(e Escrow) map[string]string {
	return map[string]string{
		"escrow":        e.Address.Hex(),
		"owner":         e.Owner.Hex(),
		"order_id":      strconv.FormatUint(e.OrderID, 10),
		"input_mint":    e.InputMint.Hex(),
		"output_mint":   e.OutputMint.Hex(),
		"amount":        strconv.FormatUint(e.Amount, 10),
		"trigger_price": strconv.FormatInt(e.TriggerPrice, 10),
		"order_type":    e.OrderType.String(),
	}
}
