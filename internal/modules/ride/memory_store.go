package ride

import (
	"context"
	"slices"
	"sync"
	"time"

	"hailing/internal/apperr"
	"hailing/internal/types"
)

// MemoryStore holds requests in process. Every guarded write runs under a
// single mutex so it has the same all-or-nothing behaviour as the SQL
// conditional updates.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[types.ID]*Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[types.ID]*Request)}
}

func (s *MemoryStore) Create(_ context.Context, r *Request, maxActive int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[r.ID]; exists {
		return apperr.New(apperr.KindConflict, "ride request %s already exists", r.ID)
	}
	if maxActive > 0 {
		active := 0
		for _, existing := range s.requests {
			if existing.CustomerPhone == r.CustomerPhone && existing.Status.Active() {
				active++
			}
		}
		if active >= maxActive {
			return tooManyActive(active)
		}
	}
	s.requests[r.ID] = r.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, notFound(id)
	}
	return r.clone(), nil
}

func (s *MemoryStore) Accept(_ context.Context, id, driverID, vehicleID types.ID, at time.Time) (*Request, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != StatusPending || r.ExpiredAt(at) {
		return nil, false, nil
	}
	for _, other := range s.requests {
		if other.DriverID != nil && *other.DriverID == driverID && other.Status.Assigned() {
			return nil, false, driverBusy(driverID)
		}
	}
	r.Status = StatusAccepted
	r.StatusVersion++
	r.DriverID = &driverID
	r.VehicleID = &vehicleID
	acceptedAt := at
	r.AcceptedAt = &acceptedAt
	return r.clone(), true, nil
}

func (s *MemoryStore) Expire(_ context.Context, id types.ID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != StatusPending || !r.ExpiredAt(at) {
		return false, nil
	}
	r.Status = StatusExpired
	r.StatusVersion++
	return true, nil
}

func (s *MemoryStore) Transition(_ context.Context, t Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[t.ID]
	if !ok || r.Status != t.From || r.StatusVersion != t.Version {
		return false, nil
	}
	at := t.At
	r.Status = t.To
	r.StatusVersion++
	switch t.To {
	case StatusEnRoute:
		r.EnRouteAt = &at
	case StatusCompleted:
		r.CompletedAt = &at
	case StatusCancelled:
		r.CancelledAt = &at
		r.CancellationFee = t.Fee
	}
	if t.ActualFare != nil {
		r.ActualFare = cloneFloat(t.ActualFare)
	}
	if t.CancelledBy != "" {
		r.CancelledBy = t.CancelledBy
	}
	if t.Reason != "" {
		r.CancellationReason = t.Reason
	}
	return true, nil
}

func (s *MemoryStore) ExpirePending(_ context.Context, at time.Time) ([]ExpiredRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ExpiredRef
	for _, r := range s.requests {
		if r.Status == StatusPending && r.ExpiredAt(at) {
			r.Status = StatusExpired
			r.StatusVersion++
			out = append(out, ExpiredRef{ID: r.ID, GroupID: cloneID(r.GroupID)})
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPending(_ context.Context, at time.Time) ([]Request, error) {
	s.mu.Lock()
	var out []Request
	for _, r := range s.requests {
		if r.Status == StatusPending && !r.ExpiredAt(at) {
			out = append(out, *r.clone())
		}
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b Request) int { return a.RequestedAt.Compare(b.RequestedAt) })
	return out, nil
}

func (s *MemoryStore) ActiveForDriver(_ context.Context, driverID types.ID) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Request
	for _, r := range s.requests {
		if r.DriverID == nil || *r.DriverID != driverID || !r.Status.Assigned() {
			continue
		}
		if best == nil || r.AcceptedAt.After(*best.AcceptedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, apperr.New(apperr.KindNotFound, "driver %s has no active ride", driverID)
	}
	return best.clone(), nil
}

func (s *MemoryStore) ListByGroup(_ context.Context, groupID types.ID) ([]Request, error) {
	s.mu.Lock()
	var out []Request
	for _, r := range s.requests {
		if r.GroupID != nil && *r.GroupID == groupID {
			out = append(out, *r.clone())
		}
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b Request) int { return a.VehicleSequence - b.VehicleSequence })
	return out, nil
}
