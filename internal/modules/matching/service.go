// README: Matching ranks available drivers by distance and broadcasts new requests to all of them.
package matching

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hailing/internal/apperr"
	"hailing/internal/geo"
	"hailing/internal/logging"
	"hailing/internal/modules/driver"
	"hailing/internal/modules/location"
	"hailing/internal/modules/ride"
	"hailing/internal/notify"
	"hailing/internal/types"
)

type Locations interface {
	ListAvailable(ctx context.Context, maxAge time.Duration, bounds *types.Bounds) ([]location.Record, error)
	GetLocation(ctx context.Context, driverID types.ID) (*location.Record, error)
	Privacy() location.Privacy
}

type Profiles interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
}

type Requests interface {
	ListPending(ctx context.Context) ([]ride.Request, error)
}

type Deps struct {
	Locations Locations
	Profiles  Profiles
	Requests  Requests
	Notifier  *notify.Dispatcher
	Dispatch  DispatchLog
	Logger    *slog.Logger
	Clock     func() time.Time
}

type Service struct {
	locations Locations
	profiles  Profiles
	requests  Requests
	notify    *notify.Dispatcher
	dispatch  DispatchLog
	log       *slog.Logger
	now       func() time.Time
}

func NewService(deps Deps) *Service {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		locations: deps.Locations,
		profiles:  deps.Profiles,
		requests:  deps.Requests,
		notify:    deps.Notifier,
		dispatch:  deps.Dispatch,
		log:       logging.OrDefault(deps.Logger),
		now:       now,
	}
}

// SetRequests installs the pending-request source. The ride service takes
// this service as its broadcaster, so one of the two is wired late.
func (s *Service) SetRequests(r Requests) {
	s.requests = r
}

// CandidatesFor returns every Available, fresh driver ordered by distance to
// the pickup, nearest first. Ties keep the newest-first listing order.
func (s *Service) CandidatesFor(ctx context.Context, req *ride.Request) ([]Candidate, error) {
	recs, err := s.locations.ListAvailable(ctx, 0, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(recs))
	for _, r := range recs {
		if r.IsStale {
			continue
		}
		out = append(out, Candidate{
			DriverID:   r.DriverID,
			VehicleID:  r.VehicleID,
			Position:   r.Point(),
			DistanceKm: geo.DistanceKm(r.Lat, r.Lng, req.Pickup.Lat, req.Pickup.Lng),
			SeenAt:     r.Timestamp,
		})
	}
	// Order on the exact distance; rounding is for display only.
	geo.SortByDistance(out, func(c Candidate) float64 { return c.DistanceKm })
	for i := range out {
		out[i].DistanceKm = types.Round(out[i].DistanceKm, 2)
	}
	return out, nil
}

// NotifyNewRequest pushes the request to every candidate in distance order.
// Any driver may accept; the first commit wins. Failures are logged only.
func (s *Service) NotifyNewRequest(ctx context.Context, req *ride.Request) {
	candidates, err := s.CandidatesFor(ctx, req)
	if err != nil {
		s.log.Warn("matching_candidates_failed", "request_id", req.ID, "err", err)
		return
	}
	notified := make([]types.ID, 0, len(candidates))
	for _, c := range candidates {
		payload := payloadFor(req)
		payload.DistanceToPickupKm = c.DistanceKm
		s.notify.ToUser(ctx, s.recipient(ctx, c.DriverID), notify.EventNewRideRequest, payload)
		notified = append(notified, c.DriverID)
	}
	if s.dispatch != nil {
		if err := s.dispatch.RecordDispatch(ctx, req.ID, notified, s.now()); err != nil {
			s.log.Warn("matching_dispatch_record_failed", "request_id", req.ID, "err", err)
		}
	}
	s.log.Info("ride_request_broadcast", "request_id", req.ID, "drivers", len(notified))
}

// Notified lists the drivers a request was pushed to.
func (s *Service) Notified(ctx context.Context, requestID types.ID) ([]types.ID, error) {
	if s.dispatch == nil {
		return nil, nil
	}
	return s.dispatch.Notified(ctx, requestID)
}

func (s *Service) recipient(ctx context.Context, driverID types.ID) string {
	if s.profiles == nil {
		return string(driverID)
	}
	d, err := s.profiles.Get(ctx, driverID)
	if err != nil {
		return string(driverID)
	}
	return d.Recipient()
}

func payloadFor(r *ride.Request) RequestPayload {
	return RequestPayload{
		RequestID:           r.ID,
		CustomerName:        r.CustomerName,
		PickupAddress:       r.PickupAddress,
		PickupLat:           r.Pickup.Lat,
		PickupLng:           r.Pickup.Lng,
		DestinationAddress:  r.DestinationAddress,
		DestinationLat:      r.Destination.Lat,
		DestinationLng:      r.Destination.Lng,
		EstimatedFare:       r.EstimatedFare,
		EstimatedDistanceKm: r.EstimatedDistanceKm,
		PassengerCount:      r.PassengerCount,
		RequestedAt:         r.RequestedAt,
		ExpiresAt:           r.ExpiresAt,
		GroupID:             r.GroupID,
	}
}

// PendingForDriver lists acceptable requests by distance from the driver's
// last position. A driver without a location sees nothing.
func (s *Service) PendingForDriver(ctx context.Context, driverID types.ID) ([]PendingItem, error) {
	loc, err := s.locations.GetLocation(ctx, driverID)
	if errors.Is(err, apperr.ErrNotFound) {
		return []PendingItem{}, nil
	}
	if err != nil {
		return nil, err
	}
	pending, err := s.requests.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]PendingItem, len(pending))
	for i, r := range pending {
		items[i] = PendingItem{
			Request:            r,
			DistanceToPickupKm: types.Round(geo.DistanceKm(loc.Lat, loc.Lng, r.Pickup.Lat, r.Pickup.Lng), 2),
		}
	}
	geo.SortByDistance(items, func(p PendingItem) float64 { return p.DistanceToPickupKm })
	return items, nil
}

// NearbyDrivers lists available drivers with offset positions. With a
// customer point the list is ordered by distance and cut at maxDistanceKm
// when that is positive.
func (s *Service) NearbyDrivers(ctx context.Context, customer *types.Point, maxDistanceKm float64) ([]NearbyDriver, error) {
	recs, err := s.locations.ListAvailable(ctx, 0, nil)
	if err != nil {
		return nil, err
	}
	privacy := s.locations.Privacy()
	out := make([]NearbyDriver, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		if r.IsStale {
			continue
		}
		view := privacy.View(r)
		nd := NearbyDriver{
			DriverID:  r.DriverID,
			VehicleID: r.VehicleID,
			Lat:       view.Lat,
			Lng:       view.Lng,
			Heading:   r.Heading,
			Timestamp: r.Timestamp,
		}
		if customer != nil {
			d := types.Round(geo.DistanceKm(customer.Lat, customer.Lng, r.Lat, r.Lng), 2)
			if maxDistanceKm > 0 && d > maxDistanceKm {
				continue
			}
			nd.DistanceKm = &d
		}
		if s.profiles != nil {
			if p, err := s.profiles.Get(ctx, r.DriverID); err == nil {
				nd.Name = p.Name
			}
		}
		out = append(out, nd)
	}
	if customer != nil {
		geo.SortByDistance(out, func(n NearbyDriver) float64 { return *n.DistanceKm })
	}
	return out, nil
}
