package tpsl

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tpsl/pkg/abci"
	"github.com/uhyunpark/tpsl/pkg/app/core/escrow"
	"github.com/uhyunpark/tpsl/pkg/app/core/mempool"
	"github.com/uhyunpark/tpsl/pkg/app/core/transaction"
	"github.com/uhyunpark/tpsl/pkg/consensus"
	"github.com/uhyunpark/tpsl/pkg/crypto"
	"github.com/uhyunpark/tpsl/pkg/ledger"
	"github.com/uhyunpark/tpsl/pkg/oracle"
	"github.com/uhyunpark/tpsl/pkg/storage"
	"github.com/uhyunpark/tpsl/pkg/swap"
)

// Receipt codes
const (
	CodeOK       uint32 = 0
	CodeInvalid  uint32 = 1 // malformed or badly signed
	CodeRejected uint32 = 2 // well-formed but failed on ledger
)

// Event is a ledger event annotated with where it happened.
type Event struct {
	Height int64             `json:"height"`
	TxHash common.Hash       `json:"txHash"`
	Type   string            `json:"type"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

type Options struct {
	Logger    *zap.SugaredLogger
	Domain    crypto.EIP712Domain
	Escrow    escrow.Config
	Guardians *oracle.GuardianSet
	// MaxPendingTxs caps the mempool; zero uses mempool.DefaultMaxTxs.
	MaxPendingTxs int
}

// App executes blocks of escrow transactions against the ledger.
type App struct {
	logger    *zap.SugaredLogger
	ledger    *ledger.Ledger
	mempool   *mempool.Mempool
	verifier  *transaction.Verifier
	guardians *oracle.GuardianSet
	escrow    *escrow.Program
	receiver  *oracle.Receiver
	router    *swap.Router
	chain     *chainState

	mu     sync.RWMutex
	status Status

	subMu       sync.RWMutex
	subscribers []func(Event)
}

func NewApp(store *storage.PebbleStore, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	l := ledger.New(store)
	receiver, err := oracle.NewReceiver(l, opts.Guardians)
	if err != nil {
		return nil, fmt.Errorf("oracle receiver: %w", err)
	}
	router, err := swap.NewRouter(l)
	if err != nil {
		return nil, fmt.Errorf("swap router: %w", err)
	}
	prog, err := escrow.NewProgram(l, opts.Escrow, receiver, router)
	if err != nil {
		return nil, fmt.Errorf("escrow program: %w", err)
	}
	chain, err := newChainState(l)
	if err != nil {
		return nil, err
	}

	a := &App{
		logger:    logger,
		ledger:    l,
		mempool:   mempool.NewMempool(opts.MaxPendingTxs),
		verifier:  transaction.NewVerifier(opts.Domain),
		guardians: opts.Guardians,
		escrow:    prog,
		receiver:  receiver,
		router:    router,
		chain:     chain,
	}
	st, err := chain.load(l)
	if err != nil {
		return nil, err
	}
	a.status = st
	return a, nil
}

// CheckTx checks structure and signatures without touching state. Price
// updates must carry a guardian quorum.
func (a *App) CheckTx(b []byte) error {
	tx, err := transaction.ParseTransaction(b)
	if err != nil {
		return err
	}
	switch tx.Type {
	case transaction.TxTypeOpen:
		_, _, err = a.verifier.VerifyOpenTransaction(tx)
	case transaction.TxTypeSettle:
		_, _, err = a.verifier.VerifySettleTransaction(tx)
	case transaction.TxTypePriceUpdate:
		err = a.guardians.Verify(tx.PriceUpdate.Update.SigningMessage(), tx.PriceUpdate.Signatures)
	}
	return err
}

// PushTx runs CheckTx, then queues the tx for the next block.
func (a *App) PushTx(b []byte) error {
	if err := a.CheckTx(b); err != nil {
		return err
	}
	return a.mempool.PushRaw(b)
}

func (a *App) PendingTxs() int { return a.mempool.Len() }

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	receipts := make([]abci.TxResult, 0, len(req.Txs))
	var events []Event
	for _, raw := range req.Txs {
		r, evs := a.deliverTx(req.Timestamp, raw)
		receipts = append(receipts, r)
		for _, ev := range evs {
			events = append(events, Event{Height: req.Height, TxHash: common.Hash(r.Hash), Type: ev.Type, Attrs: ev.Attrs})
		}
	}

	a.mu.RLock()
	prev := a.status.AppHash
	a.mu.RUnlock()
	appHash := computeAppHash(prev, req.Height, req.Timestamp, receipts)

	st := Status{Height: req.Height, Time: req.Timestamp, AppHash: appHash}
	if err := a.chain.save(a.ledger, st); err != nil {
		// state is ahead of the stored status; the next block rewrites it
		a.logger.Errorw("chain_state_save_failed", "height", req.Height, "err", err)
	}
	a.mu.Lock()
	a.status = st
	a.mu.Unlock()

	if len(req.Txs) > 0 {
		a.logger.Infow("block_finalized",
			"height", req.Height,
			"txs", len(req.Txs),
			"events", len(events),
			"app_hash", appHash.String(),
		)
	}
	a.publish(events)

	return abci.ResponseFinalizeBlock{Receipts: receipts, AppHash: appHash}
}

func (a *App) deliverTx(now int64, raw []byte) (abci.TxResult, []ledger.Event) {
	res := abci.TxResult{Hash: consensus.Hash(transaction.Hash(raw))}
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return a.reject(res, CodeInvalid, err), nil
	}

	var events []ledger.Event
	switch tx.Type {
	case transaction.TxTypeOpen:
		events, err = a.applyOpen(now, tx)
	case transaction.TxTypeSettle:
		events, err = a.applySettle(now, tx)
	case transaction.TxTypePriceUpdate:
		events, err = a.ledger.Apply(ledger.Env{Time: now}, func(ltx *ledger.Tx) error {
			return a.receiver.PostUpdate(ltx, tx.PriceUpdate.Update, tx.PriceUpdate.Signatures)
		})
	}
	if err != nil {
		code := CodeRejected
		if errors.Is(err, transaction.ErrInvalidSignature) {
			code = CodeInvalid
		}
		return a.reject(res, code, err), nil
	}
	if len(events) > 0 {
		res.Event = events[len(events)-1].Type
	}
	return res, events
}

func (a *App) reject(res abci.TxResult, code uint32, err error) abci.TxResult {
	res.Code = code
	res.Log = err.Error()
	a.logger.Debugw("tx_rejected", "tx", res.Hash.String(), "code", code, "err", err)
	return res
}

func (a *App) applyOpen(now int64, tx *transaction.SignedTransaction) ([]ledger.Event, error) {
	order, verified, err := a.verifier.VerifyOpenTransaction(tx)
	if err != nil {
		return nil, err
	}
	req := escrow.OpenRequest{
		Owner:        order.Owner,
		OrderID:      order.OrderID,
		InputMint:    order.InputMint,
		OutputMint:   order.OutputMint,
		Amount:       order.Amount,
		TriggerPrice: order.TriggerPrice,
		OrderType:    escrow.OrderType(order.OrderType),
	}
	return a.ledger.Apply(ledger.Env{Time: now, Signers: []common.Address{verified.Signer}}, func(ltx *ledger.Tx) error {
		if err := a.chain.consume(ltx, verified.Digest); err != nil {
			return err
		}
		_, err := a.escrow.Open(ltx, req)
		return err
	})
}

func (a *App) applySettle(now int64, tx *transaction.SignedTransaction) ([]ledger.Event, error) {
	settle, verified, err := a.verifier.VerifySettleTransaction(tx)
	if err != nil {
		return nil, err
	}
	req := escrow.SettleRequest{
		Caller:  settle.Caller,
		Owner:   settle.Owner,
		OrderID: settle.OrderID,
		MinOut:  settle.MinOut,
	}
	// settle is permissionless; a replay finds no escrow or a triggered one
	return a.ledger.Apply(ledger.Env{Time: now, Signers: []common.Address{verified.Signer}}, func(ltx *ledger.Tx) error {
		_, err := a.escrow.Settle(ltx, req)
		return err
	})
}

// computeAppHash chains the previous app hash with this block's receipts.
//
// Components hashed (in order):
//  1. Previous app hash
//  2. Block height (8 bytes, big-endian)
//  3. Block timestamp (8 bytes, big-endian)
//  4. Each receipt: tx hash, code (4 bytes), last event type
func computeAppHash(prev consensus.Hash, height, timestamp int64, receipts []abci.TxResult) consensus.Hash {
	h := sha256.New()
	h.Write(prev[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(timestamp))
	h.Write(buf[:])

	for _, r := range receipts {
		h.Write(r.Hash[:])
		binary.BigEndian.PutUint32(buf[:4], r.Code)
		h.Write(buf[:4])
		h.Write([]byte(r.Event))
	}

	var out consensus.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// OnEvent registers fn to receive every event of every finalized block.
func (a *App) OnEvent(fn func(Event)) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

func (a *App) publish(events []Event) {
	a.subMu.RLock()
	defer a.subMu.RUnlock()
	for _, ev := range events {
		for _, fn := range a.subscribers {
			fn(ev)
		}
	}
}

var _ abci.Application = (*App)(nil)
