package oracle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/crypto"
	"github.com/uhyunpark/tpsl/pkg/ledger"
)

// ReceiverProgramID owns every posted price update.
var ReceiverProgramID = common.HexToAddress("0x00000000000000000000000000000000000000b0")

const defaultShard uint16 = 0

func priceSeeds(feedID common.Hash) [][]byte {
	shard := binary.LittleEndian.AppendUint16(nil, defaultShard)
	return [][]byte{shard, feedID[:]}
}

// PriceAccountAddress returns where the latest update for feedID is stored.
func PriceAccountAddress(feedID common.Hash) common.Address {
	return crypto.CreateProgramAddress(ReceiverProgramID, priceSeeds(feedID)...)
}

// Receiver is the on-ledger program that accepts guardian-attested price
// updates and serves them to other programs.
type Receiver struct {
	prog      *ledger.Program
	guardians *GuardianSet
}

func NewReceiver(l *ledger.Ledger, guardians *GuardianSet) (*Receiver, error) {
	prog, err := l.RegisterProgram(ReceiverProgramID)
	if err != nil {
		return nil, err
	}
	return &Receiver{prog: prog, guardians: guardians}, nil
}

// PostUpdate verifies u and stores it if it is newer than the current one.
// Anyone may relay an update; only guardian signatures make it valid.
func (r *Receiver) PostUpdate(tx *ledger.Tx, u PriceUpdate, sigs []GuardianSignature) error {
	if err := r.guardians.Verify(u.SigningMessage(), sigs); err != nil {
		return err
	}
	cur, err := r.Latest(tx, u.FeedID)
	switch {
	case errors.Is(err, ErrPriceNotFound):
	case err != nil:
		return err
	case u.PublishTime <= cur.PublishTime:
		return fmt.Errorf("%w: have %d, got %d", ErrOutdatedUpdate, cur.PublishTime, u.PublishTime)
	}
	if _, err := r.prog.Invoke(tx).PutRecord(priceSeeds(u.FeedID), u.MarshalRecord()); err != nil {
		return err
	}
	tx.Emit("price_updated", map[string]string{
		"feed_id":      u.FeedID.Hex(),
		"price":        strconv.FormatInt(u.Price, 10),
		"conf":         strconv.FormatUint(u.Conf, 10),
		"expo":         strconv.FormatInt(int64(u.Expo), 10),
		"publish_time": strconv.FormatInt(u.PublishTime, 10),
	})
	return nil
}

// Latest returns the stored update for feedID regardless of age.
func (r *Receiver) Latest(tx *ledger.Tx, feedID common.Hash) (PriceUpdate, error) {
	addr := PriceAccountAddress(feedID)
	rec, err := tx.Record(ReceiverProgramID, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return PriceUpdate{}, fmt.Errorf("%w: %s", ErrPriceNotFound, feedID.Hex())
	}
	if err != nil {
		return PriceUpdate{}, err
	}
	return UnmarshalRecord(rec.Data)
}

// PriceNoOlderThan implements Feed against ledger time.
func (r *Receiver) PriceNoOlderThan(tx *ledger.Tx, feedID common.Hash, maxAge uint64) (Price, error) {
	u, err := r.Latest(tx, feedID)
	if err != nil {
		return Price{}, err
	}
	return u.NoOlderThan(feedID, tx.Now(), maxAge)
}

var _ Feed = (*Receiver)(nil)
