package mempool

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/app/core/transaction"
)

// DefaultMaxTxs bounds the pending set when no limit is given.
const DefaultMaxTxs = 10_000

var (
	ErrMempoolFull = errors.New("mempool full")
	ErrDuplicateTx = errors.New("tx already pending")
)

// TxType classifies transactions into block-ordering buckets.
type TxType int

const (
	TxPriceUpdate TxType = iota
	TxSettle
	TxOpen
)

// ClassifyRaw classifies a raw transaction by parsing JSON envelope.
//
//	{"type": "price_update", ...} -> TxPriceUpdate
//	{"type": "settle", ...}       -> TxSettle
//	{"type": "open", ...}         -> TxOpen
//
// Anything else lands in the open bucket; execution rejects it.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxOpen
	}

	var txEnvelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &txEnvelope); err != nil {
		return TxOpen
	}

	switch txEnvelope.Type {
	case "price_update":
		return TxPriceUpdate
	case "settle":
		return TxSettle
	default:
		return TxOpen
	}
}

// Mempool maintains three queues:
// (1) price updates, (2) settlements, (3) opens.
// A block's fresh price is therefore visible to the settlements after it.
// Within each bucket, FIFO by admission order.
type Mempool struct {
	mu      sync.Mutex
	maxTxs  int
	pending map[common.Hash]struct{}
	prices  [][]byte
	settle  [][]byte
	opens   [][]byte
}

// NewMempool holds at most maxTxs pending txs; maxTxs <= 0 means DefaultMaxTxs.
func NewMempool(maxTxs int) *Mempool {
	if maxTxs <= 0 {
		maxTxs = DefaultMaxTxs
	}
	return &Mempool{maxTxs: maxTxs, pending: make(map[common.Hash]struct{})}
}

// PushRaw classifies and enqueues a tx. Byte-identical txs already pending
// are rejected with ErrDuplicateTx.
func (m *Mempool) PushRaw(b []byte) error {
	cp := append([]byte(nil), b...)
	h := transaction.Hash(cp)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[h]; ok {
		return ErrDuplicateTx
	}
	if len(m.pending) >= m.maxTxs {
		return ErrMempoolFull
	}
	m.pending[h] = struct{}{}
	switch ClassifyRaw(b) {
	case TxPriceUpdate:
		m.prices = append(m.prices, cp)
	case TxSettle:
		m.settle = append(m.settle, cp)
	default:
		m.opens = append(m.opens, cp)
	}
	return nil
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing selected txs from the mempool.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64

	pull := func(q *[][]byte) {
		for len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				return
			}
			out = append(out, tx)
			used += n
			delete(m.pending, transaction.Hash(tx))
			*q = (*q)[1:]
		}
	}

	pull(&m.prices)
	pull(&m.settle)
	pull(&m.opens)

	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
