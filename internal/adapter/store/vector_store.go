package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"shelfcheck/internal/adapter/memstore"
	"shelfcheck/internal/port"
)

var (
	bucketVectors = []byte("vectors")
)

// BoltVectorIndex persists vectors in BoltDB and serves searches from an
// in-memory copy. Writes go to disk first; the in-memory copy is updated
// only after the transaction commits.
type BoltVectorIndex struct {
	db  *bbolt.DB
	mu  sync.Mutex // serializes writers
	mem *memstore.VectorIndex
}

type storedVector struct {
	Vector  []float32 `json:"v"`
	StoreID string    `json:"s,omitempty"`
	FileID  string    `json:"f,omitempty"`
	Seq     uint64    `json:"q"`
}

// NewBoltVectorIndex opens the vectors bucket and loads it into memory.
// Vectors whose dimension differs from dimension are dropped.
func NewBoltVectorIndex(db *bbolt.DB, dimension int) (*BoltVectorIndex, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vectors bucket: %w", err)
	}

	idx := &BoltVectorIndex{
		db:  db,
		mem: memstore.NewVectorIndex(dimension),
	}
	if err := idx.loadVectors(dimension); err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return idx, nil
}

func (x *BoltVectorIndex) loadVectors(dimension int) error {
	var items []port.VectorItem
	var seqs []uint64
	var stale [][]byte

	err := x.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil || len(stored.Vector) != dimension {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			items = append(items, port.VectorItem{ID: string(k), Vector: stored.Vector, StoreID: stored.StoreID, FileID: stored.FileID})
			seqs = append(seqs, stored.Seq)
			return nil
		})
	})
	if err != nil {
		return err
	}

	if len(stale) > 0 {
		log.Warn().Int("count", len(stale)).Int("dimension", dimension).Msg("dropping unreadable or mismatched vectors")
		err = x.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketVectors)
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return x.mem.Restore(items, seqs)
}

// Upsert adds or updates vectors. New IDs take the bucket's next sequence
// number; replaced IDs keep theirs.
func (x *BoltVectorIndex) Upsert(_ context.Context, items []port.VectorItem) error {
	for _, item := range items {
		if len(item.Vector) != x.mem.Dimension() {
			return fmt.Errorf("vector dimension mismatch for %s: expected %d, got %d", item.ID, x.mem.Dimension(), len(item.Vector))
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	seqs := make([]uint64, len(items))
	err := x.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		for i, item := range items {
			var seq uint64
			if existing := b.Get([]byte(item.ID)); existing != nil {
				var prev storedVector
				if json.Unmarshal(existing, &prev) == nil {
					seq = prev.Seq
				}
			}
			if seq == 0 {
				next, err := b.NextSequence()
				if err != nil {
					return err
				}
				seq = next
			}

			data, err := json.Marshal(storedVector{Vector: item.Vector, StoreID: item.StoreID, FileID: item.FileID, Seq: seq})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(item.ID), data); err != nil {
				return err
			}
			seqs[i] = seq
		}
		return nil
	})
	if err != nil {
		return err
	}

	return x.mem.Restore(items, seqs)
}

func (x *BoltVectorIndex) Search(ctx context.Context, query []float32, storeID string, topK int) ([]port.VectorHit, error) {
	return x.mem.Search(ctx, query, storeID, topK)
}

// Delete removes vectors by their IDs.
func (x *BoltVectorIndex) Delete(ctx context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	err := x.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return x.mem.Delete(ctx, ids)
}

func (x *BoltVectorIndex) Count(ctx context.Context) (int, error) {
	return x.mem.Count(ctx)
}
