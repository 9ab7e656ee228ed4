package trip

import (
	"context"
	"sync"
	"time"

	"hailing/internal/types"
)

type MemoryStore struct {
	mu        sync.RWMutex
	trips     map[types.ID]*Trip
	byRequest map[types.ID]types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trips: make(map[types.ID]*Trip), byRequest: make(map[types.ID]types.ID)}
}

func (s *MemoryStore) CreateOnce(_ context.Context, t *Trip) (*Trip, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byRequest[t.RideRequestID]; ok {
		return s.trips[id].clone(), false, nil
	}
	s.trips[t.ID] = t.clone()
	s.byRequest[t.RideRequestID] = t.ID
	return t.clone(), true, nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, notFound(id)
	}
	return t.clone(), nil
}

func (s *MemoryStore) Rate(_ context.Context, id types.ID, rating int, comment string, at time.Time) (*Trip, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, false, notFound(id)
	}
	if t.Rating != nil {
		return nil, false, nil
	}
	t.Rating = &rating
	t.RatingComment = comment
	t.RatedAt = &at
	return t.clone(), true, nil
}

func (s *MemoryStore) SetPaymentStatus(_ context.Context, id types.ID, status PaymentStatus) (*Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, notFound(id)
	}
	t.PaymentStatus = status
	return t.clone(), nil
}
