package abci

import (
	"github.com/uhyunpark/tpsl/pkg/consensus"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds; becomes ledger time
	Txs       [][]byte
}
type ResponseFinalizeBlock struct {
	Receipts []TxResult
	AppHash  consensus.Hash // Hash of application state after execution
}

// TxResult is the outcome of one transaction in a block.
type TxResult struct {
	Hash  consensus.Hash
	Code  uint32 // 0 = ok
	Log   string
	Event string
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

type Bridge struct {
	App        Application
	MaxTxBytes int64
}

func (b *Bridge) PreparePayload(_ consensus.Block, next consensus.Height) []byte {
	maxBytes := b.MaxTxBytes
	if maxBytes == 0 {
		maxBytes = 1 << 24
	}
	resp := b.App.PrepareProposal(RequestPrepareProposal{Height: int64(next), MaxTxBytes: maxBytes})
	// naive payload: concat with 0x00 delimiter (txs are JSON, never contain 0x00)
	var payload []byte
	for _, tx := range resp.Txs {
		payload = append(payload, tx...)
		payload = append(payload, 0x00)
	}
	return payload
}

func (b *Bridge) OnCommit(committed consensus.Block) consensus.Hash {
	resp := b.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    int64(committed.Height),
		Timestamp: committed.Time.Unix(),
		Txs:       SplitPayload(committed.Payload),
	})
	return resp.AppHash
}

func SplitPayload(p []byte) [][]byte {
	var out [][]byte
	cur := make([]byte, 0, len(p))
	for _, b := range p {
		if b == 0x00 {
			if len(cur) > 0 {
				out = append(out, append([]byte(nil), cur...))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, b)
	}
	if len(cur) > 0 {
		out = append(out, append([]byte(nil), cur...))
	}
	return out
}

var _ consensus.AppHook = (*Bridge)(nil)
