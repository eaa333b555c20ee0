package keeper

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/tpsl/pkg/app/core/escrow"
	"github.com/uhyunpark/tpsl/pkg/app/core/transaction"
	"github.com/uhyunpark/tpsl/pkg/crypto"
	"github.com/uhyunpark/tpsl/pkg/util"
)

// Source lists the escrows the keeper watches.
type Source interface {
	OpenEscrows() ([]escrow.Escrow, error)
}

// Submitter accepts raw signed transactions.
type Submitter interface {
	PushTx(raw []byte) error
}

type Config struct {
	Signer        *crypto.Signer
	Domain        crypto.EIP712Domain
	SubmitsPerSec float64
	// RetryAfter is the cooldown before the same escrow is submitted again.
	RetryAfter time.Duration
	Clock      util.Clock
	Logger     *zap.SugaredLogger
}

// Keeper settles escrows whose trigger the observed market price crosses.
// Its check is advisory; the ledger re-checks against the oracle.
type Keeper struct {
	signer  *crypto.Signer
	eip712  *crypto.EIP712Signer
	src     Source
	sub     Submitter
	limiter *rate.Limiter
	retry   time.Duration
	clock   util.Clock
	log     *zap.SugaredLogger

	lastTry map[common.Address]time.Time
	started bool
}

func New(cfg Config, src Source, sub Submitter) *Keeper {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	limit := rate.Inf
	if cfg.SubmitsPerSec > 0 {
		limit = rate.Limit(cfg.SubmitsPerSec)
	}
	return &Keeper{
		signer:  cfg.Signer,
		eip712:  crypto.NewEIP712Signer(cfg.Domain),
		src:     src,
		sub:     sub,
		limiter: rate.NewLimiter(limit, 1),
		retry:   cfg.RetryAfter,
		clock:   clock,
		log:     log,
		lastTry: make(map[common.Address]time.Time),
	}
}

// Follow hands every price from prices to each fn in order until ctx ends.
func Follow(ctx context.Context, prices <-chan int64, fns ...func(price int64)) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-prices:
			for _, fn := range fns {
				fn(p)
			}
		}
	}
}

// OnPrice submits a settlement for every open escrow triggered at price and
// returns how many were submitted.
func (k *Keeper) OnPrice(price int64) int {
	if !k.started {
		k.started = true
		k.log.Infow("keeper_started", "caller", k.signer.Address().Hex())
	}

	escrows, err := k.src.OpenEscrows()
	if err != nil {
		k.log.Warnw("keeper_list_failed", "err", err)
		return 0
	}

	now := k.clock.Now()
	open := make(map[common.Address]bool, len(escrows))
	submitted := 0
	for _, e := range escrows {
		open[e.Address] = true
		if e.OrderType.Check(price, e.TriggerPrice) != nil {
			continue
		}
		if last, ok := k.lastTry[e.Address]; ok && now.Sub(last) < k.retry {
			continue
		}
		if !k.limiter.AllowN(now, 1) {
			k.log.Debugw("keeper_throttled", "escrow", e.Address.Hex())
			break
		}
		k.lastTry[e.Address] = now
		if err := k.settle(e); err != nil {
			k.log.Warnw("settle_submit_failed", "owner", e.Owner.Hex(), "order_id", e.OrderID, "err", err)
			continue
		}
		submitted++
		k.log.Infow("settle_submitted", "owner", e.Owner.Hex(), "order_id", e.OrderID, "price", price, "trigger", e.TriggerPrice)
	}

	for addr := range k.lastTry {
		if !open[addr] {
			delete(k.lastTry, addr)
		}
	}
	return submitted
}

func (k *Keeper) settle(e escrow.Escrow) error {
	// MinOut 0 leaves slippage to the router's zero-output check
	req := &crypto.SettleOrderEIP712{
		Caller:  k.signer.Address(),
		Owner:   e.Owner,
		OrderID: e.OrderID,
		MinOut:  0,
	}
	sig, err := k.eip712.SignSettleOrder(k.signer, req)
	if err != nil {
		return err
	}
	tx := transaction.SignedTransaction{
		Type:      transaction.TxTypeSettle,
		Settle:    transaction.FromEIP712Settle(req),
		Signature: hexutil.Encode(sig),
	}
	raw, err := tx.Serialize()
	if err != nil {
		return err
	}
	return k.sub.PushTx(raw)
}
