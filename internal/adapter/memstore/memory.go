package memstore

import (
	"context"
	"sort"
	"sync"

	"shelfcheck/internal/domain"
)

// MemoryStore is an in-memory CatalogStore.
type MemoryStore struct {
	mu          sync.RWMutex
	entries     map[string]domain.CatalogEntry
	fileEntries map[string]map[string]struct{}
	pending     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:     make(map[string]domain.CatalogEntry),
		fileEntries: make(map[string]map[string]struct{}),
		pending:     make(map[string]struct{}),
	}
}

func (s *MemoryStore) PutEntries(_ context.Context, entries []domain.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if old, ok := s.entries[e.ID]; ok && old.SourceFileID != e.SourceFileID {
			s.unlinkLocked(old.SourceFileID, e.ID)
		}
		s.entries[e.ID] = e
		ids, ok := s.fileEntries[e.SourceFileID]
		if !ok {
			ids = make(map[string]struct{})
			s.fileEntries[e.SourceFileID] = ids
		}
		ids[e.ID] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) GetEntries(_ context.Context, ids []string) (map[string]domain.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.CatalogEntry, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (s *MemoryStore) EntriesByFile(_ context.Context, fileID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.fileEntries[fileID]))
	for id := range s.fileEntries[fileID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) DeleteEntries(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		delete(s.entries, id)
		delete(s.pending, id)
		s.unlinkLocked(e.SourceFileID, id)
	}
	return nil
}

func (s *MemoryStore) unlinkLocked(fileID, id string) {
	ids := s.fileEntries[fileID]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.fileEntries, fileID)
	}
}

func (s *MemoryStore) MarkPending(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.entries[id]; ok {
			s.pending[id] = struct{}{}
		}
	}
	return nil
}

func (s *MemoryStore) PendingEntries(_ context.Context) ([]domain.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CatalogEntry, 0, len(s.pending))
	for id := range s.pending {
		out = append(out, s.entries[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ClearPending(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.pending, id)
	}
	return nil
}

func (s *MemoryStore) Files(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := make([]string, 0, len(s.fileEntries))
	for f := range s.fileEntries {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func (s *MemoryStore) Stats(_ context.Context) (domain.CatalogStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := domain.CatalogStats{
		Entries: len(s.entries),
		Files:   len(s.fileEntries),
		Pending: len(s.pending),
		ByStore: make(map[string]int),
	}
	for _, e := range s.entries {
		stats.ByStore[e.StoreID]++
	}
	return stats, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
