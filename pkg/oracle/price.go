package oracle

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/crypto"
	"github.com/uhyunpark/tpsl/pkg/ledger"
)

var (
	ErrPriceTooOld            = errors.New("price is older than the allowed age")
	ErrFeedMismatch           = errors.New("price update is for a different feed")
	ErrPriceNotFound          = errors.New("no price posted for feed")
	ErrOutdatedUpdate         = errors.New("price update is not newer than the stored one")
	ErrCorruptUpdate          = errors.New("corrupt price update record")
	ErrInsufficientSignatures = errors.New("not enough guardian signatures")
	ErrUnknownGuardian        = errors.New("unknown guardian index")
	ErrInvalidSignature       = errors.New("invalid guardian signature")
)

// Price is a fixed-point value: Price * 10^Expo.
type Price struct {
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publishTime"`
}

// PriceUpdate is one attested observation of a feed.
type PriceUpdate struct {
	FeedID      common.Hash `json:"feedId"`
	Price       int64       `json:"price"`
	Conf        uint64      `json:"conf"`
	Expo        int32       `json:"expo"`
	PublishTime int64       `json:"publishTime"`
}

func (u PriceUpdate) Value() Price {
	return Price{Price: u.Price, Conf: u.Conf, Expo: u.Expo, PublishTime: u.PublishTime}
}

// Feed is the trusted price source the escrow program reads from.
type Feed interface {
	PriceNoOlderThan(tx *ledger.Tx, feedID common.Hash, maxAge uint64) (Price, error)
}

var updateDiscriminator = crypto.Discriminator("PriceUpdate")

// record layout: disc(8) feed(32) price(8) conf(8) expo(4) publish_time(8)
const updateRecordLen = 8 + 32 + 8 + 8 + 4 + 8

func (u PriceUpdate) MarshalRecord() []byte {
	buf := make([]byte, 0, updateRecordLen)
	buf = append(buf, updateDiscriminator[:]...)
	buf = append(buf, u.FeedID[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(u.Price))
	buf = binary.LittleEndian.AppendUint64(buf, u.Conf)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(u.Expo))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(u.PublishTime))
	return buf
}

func UnmarshalRecord(data []byte) (PriceUpdate, error) {
	if len(data) != updateRecordLen {
		return PriceUpdate{}, fmt.Errorf("%w: length %d", ErrCorruptUpdate, len(data))
	}
	if [8]byte(data[:8]) != updateDiscriminator {
		return PriceUpdate{}, fmt.Errorf("%w: bad discriminator", ErrCorruptUpdate)
	}
	var u PriceUpdate
	copy(u.FeedID[:], data[8:40])
	u.Price = int64(binary.LittleEndian.Uint64(data[40:48]))
	u.Conf = binary.LittleEndian.Uint64(data[48:56])
	u.Expo = int32(binary.LittleEndian.Uint32(data[56:60]))
	u.PublishTime = int64(binary.LittleEndian.Uint64(data[60:68]))
	return u, nil
}

// SigningMessage is the byte string guardians sign.
func (u PriceUpdate) SigningMessage() []byte {
	msg := []byte("tpsl-price-update:")
	return append(msg, u.MarshalRecord()[8:]...)
}

// NoOlderThan checks the update against feedID and the allowed age at now.
// A publish time in the future is accepted.
func (u PriceUpdate) NoOlderThan(feedID common.Hash, now int64, maxAge uint64) (Price, error) {
	if u.FeedID != feedID {
		return Price{}, fmt.Errorf("%w: have %s, want %s", ErrFeedMismatch, u.FeedID.Hex(), feedID.Hex())
	}
	// with now > PublishTime the difference always fits in uint64
	if now > u.PublishTime && uint64(now)-uint64(u.PublishTime) > maxAge {
		return Price{}, fmt.Errorf("%w: published %d, now %d, max age %d", ErrPriceTooOld, u.PublishTime, now, maxAge)
	}
	return u.Value(), nil
}
