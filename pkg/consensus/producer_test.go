package consensus_test

import (
	"testing"
	"time"

	"github.com/uhyunpark/tpsl/pkg/consensus"
	"github.com/uhyunpark/tpsl/pkg/storage"
	"github.com/uhyunpark/tpsl/pkg/util"
)

type countingApp struct {
	committed []consensus.Block
}

func (a *countingApp) PreparePayload(_ consensus.Block, next consensus.Height) []byte {
	return []byte{byte(next)}
}

func (a *countingApp) OnCommit(b consensus.Block) consensus.Hash {
	a.committed = append(a.committed, b)
	return consensus.Hash{1, byte(b.Height)}
}

func TestProducerChainsBlocks(t *testing.T) {
	app := &countingApp{}
	store := storage.NewInMemoryBlockStore()
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	p := consensus.NewProducer("seq", app, store, clock)

	var commits []consensus.Height
	p.OnBlockCommit = func(b consensus.Block) { commits = append(commits, b.Height) }

	b1, err := p.ProduceBlock()
	if err != nil {
		t.Fatalf("block 1: %v", err)
	}
	// Clock did not move: block time must still increase.
	b2, err := p.ProduceBlock()
	if err != nil {
		t.Fatalf("block 2: %v", err)
	}

	if b2.Parent != consensus.HashOfBlock(b1) {
		t.Errorf("block 2 parent does not link to block 1")
	}
	if !b2.Time.After(b1.Time) {
		t.Errorf("block time did not advance: %v -> %v", b1.Time, b2.Time)
	}
	if len(commits) != 2 || commits[1] != 2 {
		t.Errorf("commits = %v, want [1 2]", commits)
	}
	if got, ok := store.GetBlockByHeight(2); !ok || got.AppHash != (consensus.Hash{1, 2}) {
		t.Errorf("stored block 2 = %+v, %v", got, ok)
	}

	// A restarted producer resumes from the committed head.
	p2 := consensus.NewProducer("seq", app, store, clock)
	if p2.Head().Height != 2 {
		t.Errorf("restarted head height = %d, want 2", p2.Head().Height)
	}
}
