package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jonathan/careercraft/internal/schemas"
)

// CollectionVersion is the format version written to storage.
const CollectionVersion = 1

// collection is the persisted layout
type collection struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// Store is a write-through collection of records keyed by ID. Every
// mutation is saved to the backend before the in-memory view changes, so a
// failed save leaves the store exactly as it was.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	logger  *slog.Logger
	records []Record
}

// Open loads the collection from backend. Data that cannot be parsed or
// does not match the collection schema is logged and replaced by an empty
// collection; only backend I/O failures are returned.
func Open(ctx context.Context, backend Backend, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{backend: backend, logger: logger}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory view with the last saved state.
func (s *Store) Reload(ctx context.Context) error {
	data, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	loaded, err := decode(data)
	if err != nil {
		s.logger.Warn("record collection is corrupt, starting empty",
			slog.Int("bytes", len(data)),
			slog.String("error", err.Error()))
		loaded = nil
	}

	s.mu.Lock()
	s.records = dedupe(loaded, s.logger)
	s.mu.Unlock()
	return nil
}

// Upsert inserts a record, or replaces the record with the same ID in place.
// New records are placed first.
func (s *Store) Upsert(ctx context.Context, r Record) error {
	if r.ID == "" {
		return fmt.Errorf("record id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Record, 0, len(s.records)+1)
	i := slices.IndexFunc(s.records, func(existing Record) bool { return existing.ID == r.ID })
	if i < 0 {
		next = append(next, r.Clone())
		next = append(next, s.records...)
	} else {
		next = append(next, s.records...)
		next[i] = r.Clone()
	}

	if err := s.flush(ctx, next); err != nil {
		return err
	}
	s.records = next
	return nil
}

// Remove deletes a record. Removing an unknown ID is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.records, func(r Record) bool { return r.ID == id })
	if i < 0 {
		return nil
	}

	next := slices.Delete(slices.Clone(s.records), i, i+1)
	if err := s.flush(ctx, next); err != nil {
		return err
	}
	s.records = next
	return nil
}

// List returns a copy of all records, newest CreatedAt first.
func (s *Store) List() []Record {
	s.mu.RLock()
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return Record{}, false
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// flush must be called with mu held
func (s *Store) flush(ctx context.Context, next []Record) error {
	data, err := Encode(next)
	if err != nil {
		return err
	}
	if err := s.backend.Save(ctx, data); err != nil {
		return fmt.Errorf("failed to save records: %w", err)
	}
	return nil
}

// Encode serializes records in the persisted collection layout.
func Encode(recs []Record) ([]byte, error) {
	if recs == nil {
		recs = []Record{}
	}
	data, err := json.MarshalIndent(collection{Version: CollectionVersion, Records: recs}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode records: %w", err)
	}
	return data, nil
}

// decode parses persisted data. Empty data is an empty collection.
func decode(data []byte) ([]Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	if err := schemas.ValidateCollection(data); err != nil {
		return nil, err
	}

	var c collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse records: %w", err)
	}
	return c.Records, nil
}

// dedupe keeps the first occurrence of every ID
func dedupe(recs []Record, logger *slog.Logger) []Record {
	seen := make(map[string]struct{}, len(recs))
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if _, ok := seen[r.ID]; ok {
			logger.Warn("dropping duplicate record", slog.String("id", r.ID))
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
