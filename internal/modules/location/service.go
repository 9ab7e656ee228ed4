// README: Location service handles driver pings, availability, staleness, and the periodic sweep.
package location

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"hailing/internal/apperr"
	"hailing/internal/config"
	"hailing/internal/logging"
	"hailing/internal/maps"
	"hailing/internal/modules/driver"
	"hailing/internal/notify"
	"hailing/internal/observability"
	"hailing/internal/types"
)

// Drivers is the slice of the driver profile service this module needs.
type Drivers interface {
	AssignedVehicle(ctx context.Context, id types.ID) (types.ID, error)
	SetStatus(ctx context.Context, id types.ID, status driver.Status) error
}

type Deps struct {
	Store    Store
	Drivers  Drivers
	Notifier *notify.Dispatcher
	Router   maps.Router
	Logger   *slog.Logger
	Clock    func() time.Time
}

type Service struct {
	store   Store
	drivers Drivers
	notify  *notify.Dispatcher
	router  maps.Router
	log     *slog.Logger
	now     func() time.Time
	privacy Privacy

	staleAfter    time.Duration
	retention     time.Duration
	sweepInterval time.Duration
}

func NewService(deps Deps, cfg config.Hailing) *Service {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	retention := cfg.LocationRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Service{
		store:         deps.Store,
		drivers:       deps.Drivers,
		notify:        deps.Notifier,
		router:        deps.Router,
		log:           logging.OrDefault(deps.Logger),
		now:           now,
		privacy:       NewPrivacy(cfg.PrivacyRadiusMeters, cfg.PrivacySalt),
		staleAfter:    cfg.StaleLocationThreshold,
		retention:     retention,
		sweepInterval: cfg.LocationSweepInterval,
	}
}

type UpsertCommand struct {
	DriverID types.ID
	Lat      float64
	Lng      float64
	Accuracy *float64
	Heading  *float64
	Speed    *float64
	Status   driver.Status
}

func (c UpsertCommand) validate() error {
	if c.DriverID == "" {
		return apperr.New(apperr.KindBadRequest, "driver id is required")
	}
	if !validCoord(c.Lat, c.Lng) {
		return apperr.New(apperr.KindBadRequest, "invalid coordinates %f,%f", c.Lat, c.Lng)
	}
	if !c.Status.Valid() {
		return apperr.New(apperr.KindBadRequest, "unknown hailing status %q", c.Status)
	}
	return nil
}

func validCoord(lat, lng float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lng) && lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// UpsertLocation replaces the driver's current record, binding the assigned
// vehicle when the record is first created.
func (s *Service) UpsertLocation(ctx context.Context, cmd UpsertCommand) (*Record, error) {
	if cmd.Status == "" {
		cmd.Status = driver.StatusAvailable
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	rec := &Record{
		DriverID:  cmd.DriverID,
		Lat:       cmd.Lat,
		Lng:       cmd.Lng,
		Accuracy:  cmd.Accuracy,
		Heading:   cmd.Heading,
		Speed:     cmd.Speed,
		Status:    cmd.Status,
		Timestamp: s.now().UTC(),
	}

	existing, err := s.store.Get(ctx, cmd.DriverID)
	switch {
	case err == nil:
		rec.VehicleID = existing.VehicleID
	case errors.Is(err, apperr.ErrNotFound):
		vehicle, err := s.drivers.AssignedVehicle(ctx, cmd.DriverID)
		if err != nil {
			return nil, err
		}
		rec.VehicleID = vehicle
	default:
		return nil, err
	}

	saved, err := s.store.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}
	observability.LocationUpserts.Inc()
	s.withStaleness(saved)

	s.notify.ToTopic(ctx, notify.TopicDriverLocations, notify.EventDriverLocationUpdate, UpdateEvent{
		DriverID:  saved.DriverID,
		Lat:       saved.Lat,
		Lng:       saved.Lng,
		Status:    saved.Status,
		Timestamp: saved.Timestamp,
	})
	return saved, nil
}

// GetLocation returns the driver's record with IsStale computed now.
func (s *Service) GetLocation(ctx context.Context, driverID types.ID) (*Record, error) {
	rec, err := s.store.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	s.withStaleness(rec)
	return rec, nil
}

// PublicLocation is GetLocation with the privacy offset applied.
func (s *Service) PublicLocation(ctx context.Context, driverID types.ID) (*PublicView, error) {
	rec, err := s.GetLocation(ctx, driverID)
	if err != nil {
		return nil, err
	}
	v := s.privacy.View(rec)
	return &v, nil
}

func (s *Service) PrivacyOffset(r *Record) (float64, float64) {
	return s.privacy.Offset(r.DriverID, r.Lat, r.Lng)
}

func (s *Service) Privacy() Privacy {
	return s.privacy
}

func (s *Service) withStaleness(r *Record) {
	r.IsStale = r.Stale || r.Timestamp.Before(s.now().Add(-s.staleAfter))
}

// SetAvailability toggles the driver between Available and Offline on the
// profile and, when present, the location record.
func (s *Service) SetAvailability(ctx context.Context, driverID types.ID, available bool) (driver.Status, error) {
	status := driver.StatusOffline
	if available {
		status = driver.StatusAvailable
		if _, err := s.drivers.AssignedVehicle(ctx, driverID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return "", apperr.Wrap(apperr.KindInvalidState, err, "cannot go available without an assigned tuktuk")
			}
			return "", err
		}
	}
	if err := s.SetStatus(ctx, driverID, status); err != nil {
		return "", err
	}
	return status, nil
}

// SetStatus writes the status to the driver profile and the location record.
func (s *Service) SetStatus(ctx context.Context, driverID types.ID, status driver.Status) error {
	if err := s.drivers.SetStatus(ctx, driverID, status); err != nil {
		return err
	}
	if _, err := s.store.SetStatus(ctx, driverID, status); err != nil {
		return err
	}
	return nil
}

// AssignedVehicle proxies the driver profile lookup.
func (s *Service) AssignedVehicle(ctx context.Context, driverID types.ID) (types.ID, error) {
	return s.drivers.AssignedVehicle(ctx, driverID)
}

// ListAvailable returns Available records younger than maxAge (the stale
// threshold when zero), newest first. Stale records are never returned,
// whatever maxAge is.
func (s *Service) ListAvailable(ctx context.Context, maxAge time.Duration, bounds *types.Bounds) ([]Record, error) {
	if maxAge <= 0 {
		maxAge = s.staleAfter
	}
	now := s.now()
	recs, err := s.store.ListAvailable(ctx, now.Add(-maxAge), bounds)
	if err != nil {
		return nil, err
	}
	fresh := recs[:0]
	for i := range recs {
		s.withStaleness(&recs[i])
		if !recs[i].IsStale {
			fresh = append(fresh, recs[i])
		}
	}
	observability.DriversAvailable.Set(float64(len(fresh)))
	return fresh, nil
}

type SweepResult struct {
	MarkedStale int64
	Purged      int64
}

// SweepStale flags records older than the stale threshold and deletes
// records older than the retention window. Both cutoffs are taken once at
// the start, so a record written during the sweep is never touched. A
// failure in one step is logged and does not stop the other.
func (s *Service) SweepStale(ctx context.Context) (SweepResult, error) {
	now := s.now()
	staleCutoff := now.Add(-s.staleAfter)
	purgeCutoff := now.Add(-s.retention)

	var res SweepResult
	var errs []error

	n, err := s.store.MarkStale(ctx, staleCutoff)
	if err != nil {
		s.log.Warn("location_mark_stale_failed", "cutoff", staleCutoff, "err", err)
		errs = append(errs, err)
	} else {
		res.MarkedStale = n
		observability.LocationsMarkedStale.Add(float64(n))
	}

	n, err = s.store.DeleteOlderThan(ctx, purgeCutoff)
	if err != nil {
		s.log.Warn("location_purge_failed", "cutoff", purgeCutoff, "err", err)
		errs = append(errs, err)
	} else {
		res.Purged = n
		observability.LocationsPurged.Add(float64(n))
	}

	s.log.Info("location_sweep", "marked_stale", res.MarkedStale, "purged", res.Purged)
	return res, errors.Join(errs...)
}

func (s *Service) RunSweeper(ctx context.Context) {
	interval := s.sweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.SweepStale(ctx)
		}
	}
}

// RouteToCustomer asks the routing provider for the driver's route to the
// customer. Every failure comes back as an unavailable route.
func (s *Service) RouteToCustomer(ctx context.Context, driverID types.ID, customer types.Point) maps.Route {
	rec, err := s.GetLocation(ctx, driverID)
	if err != nil || rec.IsStale {
		return maps.Unavailable("Driver location not available")
	}
	if s.router == nil {
		return maps.Unavailable("Routing provider not configured")
	}
	route, err := s.router.Route(ctx, rec.Point(), customer)
	if err != nil {
		s.log.Warn("routing_failed", "driver_id", driverID, "err", err)
		return maps.Unavailable(maps.MsgRoutingUnavailable)
	}
	return route
}
