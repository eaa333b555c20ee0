package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/tpsl/pkg/util"
)

// Producer is a single-sequencer block loop: every MinBlockTime it asks the
// app for a payload, stamps the block with the sequencer clock (which becomes
// ledger time), executes it and persists it.
type Producer struct {
	ID           NodeID
	App          AppHook
	Store        BlockStore
	Clock        util.Clock
	MinBlockTime time.Duration

	Logger         *zap.SugaredLogger
	VerboseLogging bool

	// OnBlockCommit runs after a block is executed and stored.
	OnBlockCommit func(b Block)

	mu   sync.RWMutex
	head Block
}

func NewProducer(id NodeID, app AppHook, store BlockStore, clock util.Clock) *Producer {
	p := &Producer{ID: id, App: app, Store: store, Clock: clock, head: GenesisBlock()}
	if h, ok := store.GetCommitted(); ok {
		if b, ok := store.GetBlock(h); ok {
			p.head = b
		}
	}
	return p
}

// Head returns the last committed block.
func (p *Producer) Head() Block {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.head
}

func (p *Producer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Clock.After(p.MinBlockTime):
		}
		if _, err := p.ProduceBlock(); err != nil {
			return err
		}
	}
}

// ProduceBlock builds, executes and commits exactly one block.
func (p *Producer) ProduceBlock() (Block, error) {
	parent := p.Head()
	next := parent.Height + 1

	now := p.Clock.Now()
	if !now.After(parent.Time) {
		// ledger time never runs backwards
		now = parent.Time.Add(time.Nanosecond)
	}

	b := Block{
		Height:   next,
		Parent:   HashOfBlock(parent),
		Payload:  p.App.PreparePayload(parent, next),
		Proposer: p.ID,
		Time:     now,
	}
	b.AppHash = p.App.OnCommit(b)
	if b.AppHash == (Hash{}) {
		return Block{}, fmt.Errorf("app returned empty app hash at height %d", next)
	}

	p.Store.SaveBlock(b)
	p.Store.SetCommitted(HashOfBlock(b))

	p.mu.Lock()
	p.head = b
	p.mu.Unlock()

	if p.Logger != nil && (p.VerboseLogging || len(b.Payload) > 0) {
		p.Logger.Infow("commit", "height", b.Height, "payload_bytes", len(b.Payload), "apphash", fmt.Sprintf("0x%x", b.AppHash[:]))
	}
	if p.OnBlockCommit != nil {
		p.OnBlockCommit(b)
	}
	return b, nil
}
