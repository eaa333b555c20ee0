package swap

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tpsl/pkg/ledger"
)

// RouterProgramID owns the pools and their vaults.
var RouterProgramID = common.HexToAddress("0x00000000000000000000000000000000000000c0")

var (
	ErrNoRoute               = errors.New("no route between mints")
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrSlippage              = errors.New("output below minimum")
	ErrUnauthorized          = errors.New("authority does not own source account")
	ErrInvalidRate           = errors.New("pool rate must be positive")
)

// Executor performs a swap on behalf of auth.
type Executor interface {
	Execute(tx *ledger.Tx, auth ledger.Authority, payload []byte) (uint64, error)
}

// Pool converts InputMint to OutputMint at a fixed rate expressed in whole
// units (1 input token = Rate output tokens).
type Pool struct {
	InputMint  common.Address  `json:"inputMint"`
	OutputMint common.Address  `json:"outputMint"`
	Rate       decimal.Decimal `json:"rate"`
}

// Router is a constant-rate swap program backed by program-owned vaults.
type Router struct {
	prog *ledger.Program
}

func NewRouter(l *ledger.Ledger) (*Router, error) {
	prog, err := l.RegisterProgram(RouterProgramID)
	if err != nil {
		return nil, err
	}
	return &Router{prog: prog}, nil
}

var vaultSeed = []byte("vault")

func poolSeeds(in, out common.Address) [][]byte {
	return [][]byte{[]byte("pool"), in[:], out[:]}
}

// VaultOwner is the program-derived owner of every pool vault.
func (r *Router) VaultOwner(tx *ledger.Tx) common.Address {
	return r.prog.Invoke(tx).Sign(vaultSeed).Address()
}

// CreatePool registers a route and creates the vaults for both mints.
func (r *Router) CreatePool(tx *ledger.Tx, p Pool) error {
	if !p.Rate.IsPositive() {
		return ErrInvalidRate
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pool: %w", err)
	}
	inv := r.prog.Invoke(tx)
	if _, err := inv.CreateRecord(poolSeeds(p.InputMint, p.OutputMint), data); err != nil {
		return err
	}
	owner := r.VaultOwner(tx)
	for _, m := range []common.Address{p.InputMint, p.OutputMint} {
		if _, err := tx.CreateTokenAccountIdempotent(owner, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) Pool(tx *ledger.Tx, in, out common.Address) (Pool, error) {
	addr := r.prog.Invoke(tx).Sign(poolSeeds(in, out)...).Address()
	rec, err := tx.Record(RouterProgramID, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return Pool{}, fmt.Errorf("%w: %s -> %s", ErrNoRoute, in.Hex(), out.Hex())
	}
	if err != nil {
		return Pool{}, err
	}
	var p Pool
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return Pool{}, fmt.Errorf("failed to unmarshal pool: %w", err)
	}
	return p, nil
}

// Quote returns floor(amount * rate * 10^(outDecimals-inDecimals)).
func (r *Router) Quote(tx *ledger.Tx, in, out common.Address, amount uint64) (uint64, error) {
	p, err := r.Pool(tx, in, out)
	if err != nil {
		return 0, err
	}
	inMint, err := tx.Mint(in)
	if err != nil {
		return 0, err
	}
	outMint, err := tx.Mint(out)
	if err != nil {
		return 0, err
	}
	return convert(amount, p.Rate, inMint.Decimals, outMint.Decimals)
}

func convert(amount uint64, rate decimal.Decimal, inDecimals, outDecimals uint8) (uint64, error) {
	q := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0).
		Mul(rate).
		Shift(int32(outDecimals) - int32(inDecimals)).
		Floor()
	bi := q.BigInt()
	if bi.Sign() < 0 || !bi.IsUint64() {
		return 0, fmt.Errorf("%w: quote %s does not fit", ErrInsufficientLiquidity, q)
	}
	return bi.Uint64(), nil
}

// Execute decodes payload, pulls the input into the pool and pays the output
// to the destination account.
func (r *Router) Execute(tx *ledger.Tx, auth ledger.Authority, payload []byte) (uint64, error) {
	in, err := DecodeInstruction(payload)
	if err != nil {
		return 0, err
	}
	src, err := tx.TokenAccount(in.Source)
	if err != nil {
		return 0, err
	}
	if src.Owner != auth.Address() {
		return 0, fmt.Errorf("%w: %s", ErrUnauthorized, in.Source.Hex())
	}
	out, err := r.Quote(tx, in.InputMint, in.OutputMint, in.Amount)
	if err != nil {
		return 0, err
	}
	if out == 0 || out < in.MinOut {
		return 0, fmt.Errorf("%w: quote %d, min %d", ErrSlippage, out, in.MinOut)
	}

	owner := r.VaultOwner(tx)
	vaultIn := ledger.AssociatedTokenAddress(owner, in.InputMint)
	vaultOut := ledger.AssociatedTokenAddress(owner, in.OutputMint)
	liquidity, err := tx.TokenAccount(vaultOut)
	if err != nil {
		return 0, err
	}
	if liquidity.Amount < out {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientLiquidity, liquidity.Amount, out)
	}

	inMint, err := tx.Mint(in.InputMint)
	if err != nil {
		return 0, err
	}
	outMint, err := tx.Mint(in.OutputMint)
	if err != nil {
		return 0, err
	}
	if err := tx.TransferChecked(auth, in.Source, in.InputMint, vaultIn, in.Amount, inMint.Decimals); err != nil {
		return 0, err
	}
	poolAuth := r.prog.Invoke(tx).Sign(vaultSeed)
	if err := tx.TransferChecked(poolAuth, vaultOut, in.OutputMint, in.Destination, out, outMint.Decimals); err != nil {
		return 0, err
	}

	tx.Emit("swap", map[string]string{
		"direction":   strconv.Itoa(int(in.Direction)),
		"input_mint":  in.InputMint.Hex(),
		"output_mint": in.OutputMint.Hex(),
		"amount_in":   strconv.FormatUint(in.Amount, 10),
		"amount_out":  strconv.FormatUint(out, 10),
		"destination": in.Destination.Hex(),
	})
	return out, nil
}

var _ Executor = (*Router)(nil)
