// README: Driver service exposes profile reads and status writes to the other modules.
package driver

import (
	"context"

	"hailing/internal/apperr"
	"hailing/internal/types"
)

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Register(ctx context.Context, d *Driver) error {
	if d.ID == "" || d.Name == "" {
		return apperr.New(apperr.KindBadRequest, "driver id and name are required")
	}
	if d.Status == "" {
		d.Status = StatusOffline
	}
	if !d.Status.Valid() {
		return apperr.New(apperr.KindBadRequest, "unknown driver status %q", d.Status)
	}
	return s.store.Save(ctx, d)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) SetStatus(ctx context.Context, id types.ID, status Status) error {
	if !status.Valid() {
		return apperr.New(apperr.KindBadRequest, "unknown driver status %q", status)
	}
	return s.store.SetStatus(ctx, id, status)
}

// AssignedVehicle returns the driver's current tuktuk, or NotFound when the
// driver has none.
func (s *Service) AssignedVehicle(ctx context.Context, id types.ID) (types.ID, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if d.VehicleID == nil || *d.VehicleID == "" {
		return "", apperr.New(apperr.KindNotFound, "driver %s has no assigned tuktuk", id)
	}
	return *d.VehicleID, nil
}

func (s *Service) AddRating(ctx context.Context, id types.ID, rating int) (float64, error) {
	return s.store.AddRating(ctx, id, rating)
}

func (s *Service) IncrementRides(ctx context.Context, id types.ID) error {
	return s.store.IncrementRides(ctx, id)
}

// DeviceToken satisfies notify.TokenResolver.
func (s *Service) DeviceToken(ctx context.Context, user string) (string, error) {
	return s.store.DeviceTokenByUser(ctx, user)
}
