package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"shelfcheck/internal/domain"
)

var (
	bucketEntries     = []byte("entries")
	bucketFileEntries = []byte("file_entries")
	bucketPending     = []byte("pending")
	bucketMeta        = []byte("meta")
)

// keySep separates file ID and entry ID in file_entries keys.
const keySep = 0x00

// BoltStore is the bbolt-backed CatalogStore. Its DB handle is shared with
// BoltVectorIndex so one file holds the whole catalog.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketEntries, bucketFileEntries, bucketPending, bucketMeta}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func fileKey(fileID, entryID string) []byte {
	k := make([]byte, 0, len(fileID)+len(entryID)+1)
	k = append(k, fileID...)
	k = append(k, keySep)
	return append(k, entryID...)
}

func filePrefix(fileID string) []byte {
	return append([]byte(fileID), keySep)
}

func (s *BoltStore) PutEntries(_ context.Context, entries []domain.CatalogEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		eb := tx.Bucket(bucketEntries)
		fb := tx.Bucket(bucketFileEntries)

		for _, e := range entries {
			if old := eb.Get([]byte(e.ID)); old != nil {
				var prev domain.CatalogEntry
				if err := json.Unmarshal(old, &prev); err == nil && prev.SourceFileID != e.SourceFileID {
					if err := fb.Delete(fileKey(prev.SourceFileID, e.ID)); err != nil {
						return err
					}
				}
			}

			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := eb.Put([]byte(e.ID), data); err != nil {
				return err
			}
			if err := fb.Put(fileKey(e.SourceFileID, e.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetEntries(_ context.Context, ids []string) (map[string]domain.CatalogEntry, error) {
	out := make(map[string]domain.CatalogEntry, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		eb := tx.Bucket(bucketEntries)
		for _, id := range ids {
			data := eb.Get([]byte(id))
			if data == nil {
				continue
			}
			var e domain.CatalogEntry
			if err := json.Unmarshal(data, &e); err != nil {
				return fmt.Errorf("corrupted entry %s: %w", id, err)
			}
			out[id] = e
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) EntriesByFile(_ context.Context, fileID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := filePrefix(fileID)
		c := tx.Bucket(bucketFileEntries).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, string(k[len(prefix):]))
		}
		return nil
	})
	return ids, err
}

func (s *BoltStore) DeleteEntries(_ context.Context, ids []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		eb := tx.Bucket(bucketEntries)
		fb := tx.Bucket(bucketFileEntries)
		pb := tx.Bucket(bucketPending)

		for _, id := range ids {
			data := eb.Get([]byte(id))
			if data == nil {
				continue
			}
			var e domain.CatalogEntry
			if err := json.Unmarshal(data, &e); err == nil {
				if err := fb.Delete(fileKey(e.SourceFileID, id)); err != nil {
					return err
				}
			}
			if err := eb.Delete([]byte(id)); err != nil {
				return err
			}
			if err := pb.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) MarkPending(_ context.Context, ids []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		eb := tx.Bucket(bucketEntries)
		pb := tx.Bucket(bucketPending)
		for _, id := range ids {
			if eb.Get([]byte(id)) == nil {
				continue
			}
			if err := pb.Put([]byte(id), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) PendingEntries(_ context.Context) ([]domain.CatalogEntry, error) {
	var out []domain.CatalogEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		eb := tx.Bucket(bucketEntries)
		return tx.Bucket(bucketPending).ForEach(func(k, _ []byte) error {
			data := eb.Get(k)
			if data == nil {
				return nil
			}
			var e domain.CatalogEntry
			if err := json.Unmarshal(data, &e); err != nil {
				return fmt.Errorf("corrupted entry %s: %w", k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ClearPending(_ context.Context, ids []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		pb := tx.Bucket(bucketPending)
		for _, id := range ids {
			if err := pb.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Files(_ context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFileEntries).ForEach(func(k, _ []byte) error {
			if i := bytes.IndexByte(k, keySep); i >= 0 {
				seen[string(k[:i])] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func (s *BoltStore) Stats(ctx context.Context) (domain.CatalogStats, error) {
	stats := domain.CatalogStats{ByStore: make(map[string]int)}
	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.Pending = tx.Bucket(bucketPending).Stats().KeyN
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			var e struct {
				StoreID string `json:"store_id"`
			}
			if err := json.Unmarshal(v, &e); err != nil {
				return nil
			}
			stats.Entries++
			stats.ByStore[e.StoreID]++
			return nil
		})
	})
	if err != nil {
		return stats, err
	}
	files, err := s.Files(ctx)
	if err != nil {
		return stats, err
	}
	stats.Files = len(files)
	return stats, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
