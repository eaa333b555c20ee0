package keeper

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tpsl/pkg/app/core/transaction"
	"github.com/uhyunpark/tpsl/pkg/oracle"
	"github.com/uhyunpark/tpsl/pkg/util"
)

// PricePublisher signs observed prices as guardian updates and submits them.
// It stands in for an external oracle network on devnets.
type PricePublisher struct {
	pub    *oracle.Publisher
	feedID common.Hash
	expo   int32
	sub    Submitter
	clock  util.Clock
	log    *zap.SugaredLogger

	last int64
}

func NewPricePublisher(pub *oracle.Publisher, feedID common.Hash, expo int32, sub Submitter, clock util.Clock, log *zap.SugaredLogger) *PricePublisher {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PricePublisher{pub: pub, feedID: feedID, expo: expo, sub: sub, clock: clock, log: log}
}

// OnPrice publishes price stamped with the current second. Publish times
// must strictly increase, so later prices within the same second are dropped.
func (p *PricePublisher) OnPrice(price int64) {
	now := p.clock.Now().Unix()
	if now <= p.last {
		return
	}
	u := oracle.PriceUpdate{FeedID: p.feedID, Price: price, Expo: p.expo, PublishTime: now}
	tx := transaction.SignedTransaction{
		Type: transaction.TxTypePriceUpdate,
		PriceUpdate: &transaction.PriceUpdatePayload{
			Update:     u,
			Signatures: []oracle.GuardianSignature{p.pub.Sign(u)},
		},
	}
	raw, err := tx.Serialize()
	if err == nil {
		err = p.sub.PushTx(raw)
	}
	if err != nil {
		p.log.Warnw("price_publish_failed", "price", price, "err", err)
		return
	}
	p.last = now
	p.log.Debugw("price_published", "price", price, "publish_time", now)
}
