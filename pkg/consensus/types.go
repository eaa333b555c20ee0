package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

type NodeID string
type Height uint64

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte("0x" + h.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(string(b), "0x"))
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}
	if len(raw) != len(h) {
		return fmt.Errorf("invalid hash length %d", len(raw))
	}
	copy(h[:], raw)
	return nil
}

type Block struct {
	Height   Height
	Parent   Hash
	AppHash  Hash // Hash of application state after executing this block
	Payload  []byte
	Proposer NodeID
	Time     time.Time
}

// HashOfBlock commits to the block header and payload. AppHash is excluded:
// it is only known after execution and is stored alongside the block.
func HashOfBlock(b Block) Hash {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])

	h.Write(b.Parent[:])
	h.Write(b.Payload)
	h.Write([]byte(b.Proposer))

	binary.BigEndian.PutUint64(buf[:], uint64(b.Time.UnixNano()))
	h.Write(buf[:])

	return sha256.Sum256(h.Sum(nil))
}

func GenesisBlock() Block {
	return Block{
		Height: 0, Parent: Hash{},
		Payload: nil, Proposer: NodeID("genesis"), Time: time.Unix(0, 0),
	}
}

// AppHook is the application side of block production (see abci.Bridge).
type AppHook interface {
	PreparePayload(parent Block, next Height) []byte
	OnCommit(b Block) Hash
}

// ---- Storage interface (impl in pkg/storage) ----

type BlockStore interface {
	SaveBlock(b Block)
	GetBlock(h Hash) (Block, bool)
	GetBlockByHeight(h Height) (Block, bool)
	SetCommitted(h Hash)
	GetCommitted() (Hash, bool)
}
