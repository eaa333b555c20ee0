package abci

import (
	"testing"
	"time"

	"github.com/uhyunpark/tpsl/pkg/consensus"
)

type recordingApp struct {
	txs  [][]byte
	last RequestFinalizeBlock
}

func (a *recordingApp) PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal {
	return ResponsePrepareProposal{Txs: a.txs}
}

func (a *recordingApp) FinalizeBlock(req RequestFinalizeBlock) ResponseFinalizeBlock {
	a.last = req
	return ResponseFinalizeBlock{AppHash: consensus.Hash{9}}
}

func TestBridgePayloadRoundTrip(t *testing.T) {
	app := &recordingApp{txs: [][]byte{[]byte(`{"type":"open"}`), []byte(`{"type":"settle"}`)}}
	b := &Bridge{App: app}

	payload := b.PreparePayload(consensus.GenesisBlock(), 1)
	blk := consensus.Block{Height: 1, Payload: payload, Time: time.Unix(1_700_000_123, 0)}

	if h := b.OnCommit(blk); h != (consensus.Hash{9}) {
		t.Fatalf("app hash = %x", h)
	}
	if app.last.Timestamp != 1_700_000_123 {
		t.Errorf("timestamp = %d", app.last.Timestamp)
	}
	if len(app.last.Txs) != 2 || string(app.last.Txs[1]) != `{"type":"settle"}` {
		t.Errorf("txs = %q", app.last.Txs)
	}
}

func TestSplitPayloadSkipsEmpty(t *testing.T) {
	got := SplitPayload([]byte("a\x00\x00b"))
	if len(got) != 2 || string(got[0]) != "a" || string(got[1]) != "b" {
		t.Errorf("SplitPayload = %q", got)
	}
}
