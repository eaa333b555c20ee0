package tpsl

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/consensus"
	"github.com/uhyunpark/tpsl/pkg/ledger"
)

// ChainProgramID owns node bookkeeping: consumed request digests and the
// latest finalized block status.
var ChainProgramID = common.HexToAddress("0x00000000000000000000000000000000000000e0")

var ErrReplayedTx = errors.New("request already executed")

var statusSeeds = [][]byte{[]byte("status")}

// Status describes the last finalized block.
type Status struct {
	Height  int64          `json:"height"`
	Time    int64          `json:"time"`
	AppHash consensus.Hash `json:"appHash"`
}

type chainState struct {
	prog *ledger.Program
}

func newChainState(l *ledger.Ledger) (*chainState, error) {
	prog, err := l.RegisterProgram(ChainProgramID)
	if err != nil {
		return nil, fmt.Errorf("chain program: %w", err)
	}
	return &chainState{prog: prog}, nil
}

// consume marks a signed request digest as executed. It fails if the digest
// was seen before, so a signed open runs at most once.
func (c *chainState) consume(tx *ledger.Tx, digest common.Hash) error {
	_, err := c.prog.Invoke(tx).CreateRecord([][]byte{[]byte("digest"), digest[:]}, []byte{1})
	if errors.Is(err, ledger.ErrAccountInUse) {
		return fmt.Errorf("%w: %s", ErrReplayedTx, digest.Hex())
	}
	return err
}

func (c *chainState) save(l *ledger.Ledger, st Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = l.Apply(ledger.Env{Time: st.Time}, func(tx *ledger.Tx) error {
		_, err := c.prog.Invoke(tx).PutRecord(statusSeeds, data)
		return err
	})
	return err
}

func (c *chainState) load(l *ledger.Ledger) (Status, error) {
	var st Status
	err := l.View(func(tx *ledger.Tx) error {
		addr := c.prog.Invoke(tx).Sign(statusSeeds...).Address()
		rec, err := tx.Record(ChainProgramID, addr)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return json.Unmarshal(rec.Data, &st)
	})
	if err != nil {
		return Status{}, fmt.Errorf("load chain status: %w", err)
	}
	return st, nil
}
