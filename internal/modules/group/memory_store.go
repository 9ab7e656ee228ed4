package group

import (
	"context"
	"sync"
	"time"

	"hailing/internal/apperr"
	"hailing/internal/types"
)

type MemoryStore struct {
	mu       sync.Mutex
	bookings map[types.ID]*Booking
	// locks serialise UpdateStatus per booking without holding mu while the
	// caller's function runs.
	locks map[types.ID]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bookings: make(map[types.ID]*Booking), locks: make(map[types.ID]*sync.Mutex)}
}

func (s *MemoryStore) Create(_ context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; ok {
		return apperr.New(apperr.KindConflict, "group booking %s already exists", b.ID)
	}
	s.bookings[b.ID] = b.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, notFound(id)
	}
	return b.clone(), nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id types.ID, status Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatusLocked(id, status, at)
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id types.ID, at time.Time, next func(cur *Booking) (Status, error)) (Status, Status, error) {
	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	to, err := next(cur)
	if err != nil {
		return cur.Status, cur.Status, err
	}
	if to == cur.Status {
		return cur.Status, to, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setStatusLocked(id, to, at); err != nil {
		return cur.Status, cur.Status, err
	}
	return cur.Status, to, nil
}

func (s *MemoryStore) setStatusLocked(id types.ID, status Status, at time.Time) error {
	b, ok := s.bookings[id]
	if !ok {
		return notFound(id)
	}
	b.Status = status
	b.UpdatedAt = at
	if status == StatusFullyAccepted && b.FullyAcceptedAt == nil {
		b.FullyAcceptedAt = &at
	}
	if status == StatusCompleted && b.CompletedAt == nil {
		b.CompletedAt = &at
	}
	return nil
}
