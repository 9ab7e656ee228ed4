package driver

import (
	"context"
	"sync"

	"hailing/internal/apperr"
	"hailing/internal/types"
)

// MemoryStore keeps profiles in process. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	drivers   map[types.ID]*Driver
	ratingSum map[types.ID]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[types.ID]*Driver), ratingSum: make(map[types.ID]int)}
}

func (s *MemoryStore) Save(_ context.Context, d *Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := d.clone()
	if prev, ok := s.drivers[d.ID]; ok {
		c.AverageRating, c.RatingCount, c.TotalRides = prev.AverageRating, prev.RatingCount, prev.TotalRides
	}
	s.drivers[d.ID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "driver %s not found", id)
	}
	return d.clone(), nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id types.ID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "driver %s not found", id)
	}
	d.Status = status
	return nil
}

func (s *MemoryStore) AddRating(_ context.Context, id types.ID, rating int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return 0, apperr.New(apperr.KindNotFound, "driver %s not found", id)
	}
	s.ratingSum[id] += rating
	d.RatingCount++
	d.AverageRating = float64(s.ratingSum[id]) / float64(d.RatingCount)
	return d.AverageRating, nil
}

func (s *MemoryStore) IncrementRides(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drivers[id]; ok {
		d.TotalRides++
	}
	return nil
}

func (s *MemoryStore) DeviceTokenByUser(_ context.Context, user string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.drivers {
		if d.UserAccount == user || string(d.ID) == user {
			return d.DeviceToken, nil
		}
	}
	return "", nil
}
