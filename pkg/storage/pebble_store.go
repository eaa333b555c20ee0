package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/uhyunpark/tpsl/pkg/consensus"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("storage: not found")

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// NewMemStore opens a store on an in-memory filesystem (tests, ephemeral nodes).
func NewMemStore() (*PebbleStore, error) {
	db, err := pebble.Open("mem", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Get reads committed state. The returned slice is owned by the caller.
func (s *PebbleStore) Get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// Scan visits committed keys with the given prefix in order.
func (s *PebbleStore) Scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Batch is an indexed write batch: reads see the batch's own writes layered
// over committed state, and nothing is visible to others until Commit.
type Batch struct {
	b *pebble.Batch
}

func (s *PebbleStore) NewBatch() *Batch {
	return &Batch{b: s.db.NewIndexedBatch()}
}

func (b *Batch) Get(key []byte) ([]byte, error) {
	val, closer, err := b.b.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (b *Batch) Has(key []byte) (bool, error) {
	_, err := b.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *Batch) Set(key, val []byte) error { return b.b.Set(key, val, nil) }

func (b *Batch) Delete(key []byte) error { return b.b.Delete(key, nil) }

func (b *Batch) Scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := b.b.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Commit writes the batch to Pebble atomically
func (b *Batch) Commit() error { return b.b.Commit(pebble.Sync) }

// Close releases the batch; after Commit it is a no-op for durability,
// without Commit it discards every write.
func (b *Batch) Close() error { return b.b.Close() }

// ============================================================================
// Block persistence
// ============================================================================

// keys: b:<32-byte-hash>, h:<8-byte-height>, cm:committed
func kBlock(h consensus.Hash) []byte    { return append([]byte("b:"), h[:]...) }
func kHeight(h consensus.Height) []byte { return append([]byte("h:"), heightKey(h)...) }
func kCommitted() []byte                { return []byte("cm") }

func (s *PebbleStore) SaveBlock(b consensus.Block) {
	hash := consensus.HashOfBlock(b)
	val, err := encodeGob(b)
	if err != nil {
		panic(fmt.Errorf("encode block: %w", err))
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(kBlock(hash), val, nil); err != nil {
		panic(err)
	}
	if err := batch.Set(kHeight(b.Height), hash[:], nil); err != nil {
		panic(err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		panic(err)
	}
}

func (s *PebbleStore) GetBlock(h consensus.Hash) (consensus.Block, bool) {
	val, err := s.Get(kBlock(h))
	if errors.Is(err, ErrNotFound) {
		return consensus.Block{}, false
	}
	if err != nil {
		panic(err)
	}
	var out consensus.Block
	if err := decodeGob(val, &out); err != nil {
		panic(err)
	}
	return out, true
}

func (s *PebbleStore) GetBlockByHeight(height consensus.Height) (consensus.Block, bool) {
	val, err := s.Get(kHeight(height))
	if errors.Is(err, ErrNotFound) {
		return consensus.Block{}, false
	}
	if err != nil {
		panic(err)
	}
	var h consensus.Hash
	copy(h[:], val)
	return s.GetBlock(h)
}

func (s *PebbleStore) SetCommitted(h consensus.Hash) {
	if err := s.db.Set(kCommitted(), h[:], pebble.Sync); err != nil {
		panic(err)
	}
}

func (s *PebbleStore) GetCommitted() (consensus.Hash, bool) {
	val, err := s.Get(kCommitted())
	if errors.Is(err, ErrNotFound) {
		return consensus.Hash{}, false
	}
	if err != nil {
		panic(err)
	}
	var out consensus.Hash
	copy(out[:], val)
	return out, true
}

var _ consensus.BlockStore = (*PebbleStore)(nil)
