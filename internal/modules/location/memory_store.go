package location

import (
	"context"
	"slices"
	"sync"
	"time"

	"hailing/internal/apperr"
	"hailing/internal/modules/driver"
	"hailing/internal/types"
)

// MemoryStore is an in-process Store guarded by a RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[types.ID]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[types.ID]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, driverID types.ID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[driverID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "no location for driver %s", driverID)
	}
	return r.clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, r *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := r.clone()
	c.Stale = false
	if prev, ok := s.records[r.DriverID]; ok {
		c.VehicleID = prev.VehicleID
	}
	s.records[r.DriverID] = c
	return c.clone(), nil
}

func (s *MemoryStore) SetStatus(_ context.Context, driverID types.ID, status driver.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[driverID]
	if !ok {
		return false, nil
	}
	r.Status = status
	return true, nil
}

func (s *MemoryStore) ListAvailable(_ context.Context, since time.Time, bounds *types.Bounds) ([]Record, error) {
	s.mu.RLock()
	var out []Record
	for _, r := range s.records {
		if r.Status != driver.StatusAvailable || r.Stale || r.Timestamp.Before(since) {
			continue
		}
		if bounds != nil && !bounds.Contains(r.Point()) {
			continue
		}
		out = append(out, *r.clone())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Record) int { return b.Timestamp.Compare(a.Timestamp) })
	return out, nil
}

func (s *MemoryStore) MarkStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) && !r.Stale {
			r.Stale = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Len reports how many records are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// StoredStale reports the persisted stale flag for a driver.
func (s *MemoryStore) StoredStale(driverID types.ID) (stale, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[driverID]
	if !ok {
		return false, false
	}
	return r.Stale, true
}
