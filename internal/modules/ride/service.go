// README: Ride service drives requests through the lifecycle and fires the side effects of each step.
package ride

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"hailing/internal/apperr"
	"hailing/internal/config"
	"hailing/internal/logging"
	"hailing/internal/modules/driver"
	"hailing/internal/modules/location"
	"hailing/internal/modules/pricing"
	"hailing/internal/notify"
	"hailing/internal/observability"
	"hailing/internal/types"
)

// Drivers flips the hailing status on the profile and the location record.
type Drivers interface {
	AssignedVehicle(ctx context.Context, id types.ID) (types.ID, error)
	SetStatus(ctx context.Context, id types.ID, status driver.Status) error
}

type Profiles interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	IncrementRides(ctx context.Context, id types.ID) error
}

type Locations interface {
	PublicLocation(ctx context.Context, driverID types.ID) (*location.PublicView, error)
}

// Broadcaster fans a new request out to drivers.
type Broadcaster interface {
	NotifyNewRequest(ctx context.Context, r *Request)
}

// CompletionSink receives completion events. Its errors never undo the
// completion.
type CompletionSink interface {
	RideCompleted(ctx context.Context, ev CompletionEvent) error
}

type GroupRecomputer interface {
	Recompute(ctx context.Context, groupID types.ID) error
}

type Deps struct {
	Store       Store
	Drivers     Drivers
	Profiles    Profiles
	Locations   Locations
	Broadcaster Broadcaster
	Notifier    *notify.Dispatcher
	Completions CompletionSink
	Logger      *slog.Logger
	Clock       func() time.Time
}

type Service struct {
	store       Store
	drivers     Drivers
	profiles    Profiles
	locations   Locations
	broadcaster Broadcaster
	notify      *notify.Dispatcher
	completions CompletionSink
	groups      GroupRecomputer
	log         *slog.Logger
	now         func() time.Time
	cfg         config.Hailing
}

const maxTransitionAttempts = 3

func NewService(deps Deps, cfg config.Hailing) *Service {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       deps.Store,
		drivers:     deps.Drivers,
		profiles:    deps.Profiles,
		locations:   deps.Locations,
		broadcaster: deps.Broadcaster,
		notify:      deps.Notifier,
		completions: deps.Completions,
		log:         logging.OrDefault(deps.Logger),
		now:         now,
		cfg:         cfg,
	}
}

// SetGroupRecomputer installs the group coordinator. The coordinator depends
// on this service, so it is wired after construction.
func (s *Service) SetGroupRecomputer(g GroupRecomputer) {
	s.groups = g
}

func (s *Service) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

type CreateCommand struct {
	CustomerPhone      string
	CustomerName       string
	Pickup             types.Point
	PickupAddress      string
	Destination        types.Point
	DestinationAddress string
	PassengerCount     int
}

// MaxPassengersPerVehicle is the seat count of one tuktuk.
const MaxPassengersPerVehicle = 3

// ValidateCreate checks the fields of cmd and that the pickup lies inside
// the service area. PassengerCount is not checked here.
func (s *Service) ValidateCreate(cmd CreateCommand) error {
	if cmd.CustomerPhone == "" {
		return apperr.New(apperr.KindBadRequest, "customer phone is required")
	}
	if !validCoord(cmd.Pickup) || !validCoord(cmd.Destination) {
		return apperr.New(apperr.KindBadRequest, "invalid pickup or destination coordinates")
	}
	if cmd.Pickup == cmd.Destination {
		return apperr.New(apperr.KindBadRequest, "pickup and destination are the same point")
	}
	if !s.cfg.ServiceArea.Contains(cmd.Pickup) {
		return apperr.New(apperr.KindOutsideServiceArea, "pickup %.6f,%.6f is outside the service area", cmd.Pickup.Lat, cmd.Pickup.Lng)
	}
	return nil
}

func validCoord(p types.Point) bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) && p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Create opens a Pending request for the customer and broadcasts it.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Request, error) {
	if cmd.PassengerCount < 1 || cmd.PassengerCount > MaxPassengersPerVehicle {
		return nil, apperr.New(apperr.KindBadRequest,
			"passenger count must be between 1 and %d; use a group booking for more", MaxPassengersPerVehicle)
	}
	if err := s.ValidateCreate(cmd); err != nil {
		return nil, err
	}
	return s.create(ctx, cmd, nil, 0, s.cfg.MaxActiveRequestsPerCustomer)
}

// CreateGroupLeg opens one child request of a group booking. Legs do not
// count against the per-customer active limit.
func (s *Service) CreateGroupLeg(ctx context.Context, cmd CreateCommand, groupID types.ID, sequence int) (*Request, error) {
	return s.create(ctx, cmd, &groupID, sequence, 0)
}

// Quote prices the route with the configured pricing.
func (s *Service) Quote(pickup, destination types.Point) pricing.Quote {
	return pricing.EstimateFare(pickup, destination, s.cfg.Pricing)
}

func (s *Service) create(ctx context.Context, cmd CreateCommand, groupID *types.ID, sequence, maxActive int) (*Request, error) {
	quote := s.Quote(cmd.Pickup, cmd.Destination)
	now := s.now().UTC()
	req := &Request{
		ID:                  types.ID(uuid.NewString()),
		CustomerPhone:       cmd.CustomerPhone,
		CustomerName:        cmd.CustomerName,
		Pickup:              cmd.Pickup,
		PickupAddress:       cmd.PickupAddress,
		Destination:         cmd.Destination,
		DestinationAddress:  cmd.DestinationAddress,
		PassengerCount:      cmd.PassengerCount,
		EstimatedDistanceKm: quote.DistanceKm,
		EstimatedFare:       quote.Fare,
		Status:              StatusPending,
		StatusVersion:       1,
		RequestedAt:         now,
		ExpiresAt:           now.Add(s.cfg.RequestTimeout),
		GroupID:             groupID,
		VehicleSequence:     sequence,
	}
	if err := s.store.Create(ctx, req, maxActive); err != nil {
		return nil, err
	}
	observability.RideRequestsCreated.Inc()
	s.log.Info("ride_request_created", "request_id", req.ID, "fare", req.EstimatedFare, "distance_km", req.EstimatedDistanceKm)
	if s.broadcaster != nil {
		s.broadcaster.NotifyNewRequest(ctx, req)
	}
	return req, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Request, error) {
	return s.store.Get(ctx, id)
}

// ListPending returns Pending requests that can still be accepted.
func (s *Service) ListPending(ctx context.Context) ([]Request, error) {
	return s.store.ListPending(ctx, s.now())
}

func (s *Service) ActiveForDriver(ctx context.Context, driverID types.ID) (*Request, error) {
	return s.store.ActiveForDriver(ctx, driverID)
}

func (s *Service) ListByGroup(ctx context.Context, groupID types.ID) ([]Request, error) {
	return s.store.ListByGroup(ctx, groupID)
}

// Accept binds the driver and their tuktuk to a Pending request. The status
// and deadline checks and the write are a single conditional update, so of
// several concurrent accepts exactly one commits.
func (s *Service) Accept(ctx context.Context, id, driverID types.ID) (*Request, error) {
	if driverID == "" {
		return nil, apperr.New(apperr.KindBadRequest, "driver id is required")
	}
	vehicle, err := s.drivers.AssignedVehicle(ctx, driverID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Wrap(apperr.KindInvalidState, err, "driver %s cannot accept rides without an assigned tuktuk", driverID)
		}
		return nil, err
	}
	active, err := s.store.ActiveForDriver(ctx, driverID)
	switch {
	case err == nil:
		return nil, apperr.New(apperr.KindInvalidState, "driver %s already has active ride %s", driverID, active.ID)
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	now := s.now().UTC()
	req, ok, err := s.store.Accept(ctx, id, driverID, vehicle, now)
	if err != nil {
		observability.AcceptAttempts.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, err
	}
	if !ok {
		err := s.rejectAccept(ctx, id, now)
		observability.AcceptAttempts.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, err
	}

	observability.AcceptAttempts.WithLabelValues("accepted").Inc()
	observability.RideTransitions.WithLabelValues(string(StatusAccepted)).Inc()
	s.log.Info("ride_request_accepted", "request_id", id, "driver_id", driverID, "vehicle_id", vehicle)

	s.setDriverStatus(ctx, driverID, driver.StatusEnRoute)
	s.recomputeGroup(ctx, req.GroupID)
	s.notify.ToUser(ctx, req.CustomerPhone, notify.EventRideAccepted, s.acceptedPayload(ctx, req))
	return req, nil
}

// rejectAccept explains a failed accept from the request's current state.
// A Pending request past its deadline is expired on the way out.
func (s *Service) rejectAccept(ctx context.Context, id types.ID, now time.Time) error {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch cur.Status {
	case StatusPending:
		if !cur.ExpiredAt(now) {
			return apperr.New(apperr.KindConflict, "ride request %s changed during accept; retry", id)
		}
		flipped, err := s.store.Expire(ctx, id, now)
		if err != nil {
			return err
		}
		if flipped {
			observability.RideRequestsExpired.Inc()
			observability.RideTransitions.WithLabelValues(string(StatusExpired)).Inc()
			s.recomputeGroup(ctx, cur.GroupID)
		}
		return expired(id)
	case StatusExpired:
		return expired(id)
	case StatusAccepted, StatusEnRoute, StatusCompleted:
		return apperr.New(apperr.KindAlreadyTaken, "ride request %s was already accepted by another driver", id)
	default:
		return apperr.New(apperr.KindInvalidTransition, "ride request %s is %s and cannot be accepted", id, cur.Status)
	}
}

func expired(id types.ID) error {
	return apperr.New(apperr.KindExpired, "ride request %s has expired", id)
}

type DriverInfo struct {
	ID        types.ID `json:"id"`
	Name      string   `json:"name"`
	Phone     string   `json:"phone"`
	Rating    float64  `json:"rating"`
	VehicleID types.ID `json:"vehicle_id"`
}

func (s *Service) driverInfo(ctx context.Context, r *Request) *DriverInfo {
	if r.DriverID == nil {
		return nil
	}
	info := &DriverInfo{ID: *r.DriverID}
	if r.VehicleID != nil {
		info.VehicleID = *r.VehicleID
	}
	if s.profiles == nil {
		return info
	}
	d, err := s.profiles.Get(ctx, *r.DriverID)
	if err != nil {
		s.log.Warn("driver_profile_lookup_failed", "driver_id", *r.DriverID, "err", err)
		return info
	}
	info.Name = d.Name
	info.Phone = d.Phone
	info.Rating = d.AverageRating
	return info
}

func (s *Service) acceptedPayload(ctx context.Context, r *Request) map[string]any {
	return map[string]any{
		"request_id":  r.ID,
		"driver":      s.driverInfo(ctx, r),
		"accepted_at": r.AcceptedAt,
		"fare":        r.EstimatedFare,
	}
}

// MarkEnRoute records that the bound driver is heading to the pickup.
// driverID, when set, must be the accepting driver.
func (s *Service) MarkEnRoute(ctx context.Context, id, driverID types.ID) (*Request, error) {
	req, err := s.transition(ctx, id, StatusEnRoute, func(cur *Request, t *Transition) error {
		return requireDriver(cur, driverID)
	})
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"request_id": req.ID, "driver": s.driverInfo(ctx, req)}
	if s.locations != nil && req.DriverID != nil {
		if loc, err := s.locations.PublicLocation(ctx, *req.DriverID); err == nil && !loc.IsStale {
			payload["driver_location"] = loc
		}
	}
	s.notify.ToUser(ctx, req.CustomerPhone, notify.EventDriverEnRoute, payload)
	return req, nil
}

type CompleteCommand struct {
	ID         types.ID
	DriverID   types.ID
	ActualFare *float64
}

// Complete closes the ride, frees the driver, and emits the completion event.
// The actual fare defaults to the estimate.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Request, error) {
	if cmd.ActualFare != nil && (*cmd.ActualFare < 0 || math.IsNaN(*cmd.ActualFare)) {
		return nil, apperr.New(apperr.KindBadRequest, "actual fare must be non-negative")
	}
	req, err := s.transition(ctx, cmd.ID, StatusCompleted, func(cur *Request, t *Transition) error {
		if err := requireDriver(cur, cmd.DriverID); err != nil {
			return err
		}
		fare := cur.EstimatedFare
		if cmd.ActualFare != nil {
			fare = types.Round(*cmd.ActualFare, 2)
		}
		t.ActualFare = &fare
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.DriverID != nil {
		s.setDriverStatus(ctx, *req.DriverID, driver.StatusAvailable)
		if s.profiles != nil {
			if err := s.profiles.IncrementRides(ctx, *req.DriverID); err != nil {
				s.log.Warn("driver_ride_count_failed", "driver_id", *req.DriverID, "err", err)
			}
		}
	}
	s.recomputeGroup(ctx, req.GroupID)
	s.emitCompletion(ctx, req)
	s.notify.ToUser(ctx, req.CustomerPhone, notify.EventRideCompleted, map[string]any{
		"request_id": req.ID,
		"fare":       req.ActualFare,
	})
	return req, nil
}

func (s *Service) emitCompletion(ctx context.Context, r *Request) {
	if s.completions == nil {
		return
	}
	ev := CompletionEvent{
		RequestID:  r.ID,
		DistanceKm: r.EstimatedDistanceKm,
		Customer:   r.CustomerPhone,
		GroupID:    r.GroupID,
	}
	if r.DriverID != nil {
		ev.DriverID = *r.DriverID
	}
	if r.VehicleID != nil {
		ev.VehicleID = *r.VehicleID
	}
	if r.ActualFare != nil {
		ev.Fare = *r.ActualFare
	}
	if r.CompletedAt != nil {
		ev.CompletedAt = *r.CompletedAt
	}
	if err := s.completions.RideCompleted(ctx, ev); err != nil {
		s.log.Warn("ride_completion_sink_failed", "request_id", r.ID, "err", err)
	}
}

type CancelCommand struct {
	ID          types.ID
	CancelledBy CancelledBy
	Reason      string
	// DriverID, when set with CancelledByDriver, must be the accepting driver.
	DriverID types.ID
}

// Cancel moves a non-terminal request to Cancelled. A customer cancelling
// later than the free period after acceptance is charged the fee.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Request, error) {
	if !cmd.CancelledBy.Valid() {
		return nil, apperr.New(apperr.KindBadRequest, "unknown canceller %q", cmd.CancelledBy)
	}
	var bound *types.ID
	req, err := s.transition(ctx, cmd.ID, StatusCancelled, func(cur *Request, t *Transition) error {
		if cmd.CancelledBy == CancelledByDriver {
			if err := requireDriver(cur, cmd.DriverID); err != nil {
				return err
			}
		}
		t.CancelledBy = cmd.CancelledBy
		t.Reason = cmd.Reason
		t.Fee = s.cancellationFee(cur, cmd.CancelledBy, t.At)
		bound = cur.DriverID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if bound != nil {
		s.setDriverStatus(ctx, *bound, driver.StatusAvailable)
	}
	s.recomputeGroup(ctx, req.GroupID)

	payload := map[string]any{
		"request_id":   req.ID,
		"cancelled_by": req.CancelledBy,
		"reason":       req.CancellationReason,
	}
	if cmd.CancelledBy == CancelledByCustomer {
		if bound != nil {
			s.notify.ToUser(ctx, s.driverRecipient(ctx, *bound), notify.EventCustomerCancelled, payload)
		}
	} else {
		s.notify.ToUser(ctx, req.CustomerPhone, notify.EventRideCancelled, payload)
	}
	return req, nil
}

func (s *Service) cancellationFee(cur *Request, by CancelledBy, at time.Time) float64 {
	if by != CancelledByCustomer || cur.AcceptedAt == nil {
		return 0
	}
	if at.Sub(*cur.AcceptedAt) > s.cfg.CancellationFreePeriod {
		return s.cfg.CancellationFee
	}
	return 0
}

func (s *Service) driverRecipient(ctx context.Context, id types.ID) string {
	if s.profiles == nil {
		return string(id)
	}
	d, err := s.profiles.Get(ctx, id)
	if err != nil {
		return string(id)
	}
	return d.Recipient()
}

func requireDriver(cur *Request, driverID types.ID) error {
	if driverID == "" {
		return nil
	}
	if cur.DriverID == nil || *cur.DriverID != driverID {
		return apperr.New(apperr.KindUnauthorized, "driver %s is not assigned to ride request %s", driverID, cur.ID)
	}
	return nil
}

// transition reads the request, lets prepare fill in the write, and commits
// it with a status+version compare-and-swap. A lost swap re-reads and tries
// again, so a concurrent commit is seen before the next attempt.
func (s *Service) transition(ctx context.Context, id types.ID, to Status, prepare func(cur *Request, t *Transition) error) (*Request, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !CanTransition(cur.Status, to) {
			return nil, apperr.New(apperr.KindInvalidTransition, "ride request %s cannot move from %s to %s", id, cur.Status, to)
		}
		t := Transition{ID: id, From: cur.Status, Version: cur.StatusVersion, To: to, At: s.now().UTC()}
		if prepare != nil {
			if err := prepare(cur, &t); err != nil {
				return nil, err
			}
		}
		ok, err := s.store.Transition(ctx, t)
		if err != nil {
			return nil, err
		}
		if ok {
			observability.RideTransitions.WithLabelValues(string(to)).Inc()
			s.log.Info("ride_request_transition", "request_id", id, "from", cur.Status, "to", to)
			return s.store.Get(ctx, id)
		}
	}
	return nil, apperr.New(apperr.KindConflict, "ride request %s is being updated concurrently", id)
}

// ExpireStale flips every Pending request past its deadline to Expired.
// Group recompute failures are logged and skipped.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	refs, err := s.store.ExpirePending(ctx, s.now().UTC())
	if err != nil {
		s.log.Warn("ride_expiry_sweep_failed", "err", err)
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}
	observability.RideRequestsExpired.Add(float64(len(refs)))
	observability.RideTransitions.WithLabelValues(string(StatusExpired)).Add(float64(len(refs)))

	seen := make(map[types.ID]bool)
	for _, ref := range refs {
		s.notifyExpired(ctx, ref.ID)
		if ref.GroupID == nil || seen[*ref.GroupID] {
			continue
		}
		seen[*ref.GroupID] = true
		s.recomputeGroup(ctx, ref.GroupID)
	}
	s.log.Info("ride_expiry_sweep", "expired", len(refs))
	return len(refs), nil
}

func (s *Service) notifyExpired(ctx context.Context, id types.ID) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		s.log.Warn("expired_request_lookup_failed", "request_id", id, "err", err)
		return
	}
	s.notify.ToUser(ctx, req.CustomerPhone, notify.EventRideExpired, map[string]any{"request_id": id})
}

func (s *Service) RunExpiryMonitor(ctx context.Context) {
	interval := s.cfg.ExpirySweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.ExpireStale(ctx)
		}
	}
}

// CustomerStatus is the customer's view of their request.
type CustomerStatus struct {
	Request        *Request             `json:"request"`
	Driver         *DriverInfo          `json:"driver,omitempty"`
	DriverLocation *location.PublicView `json:"driver_location,omitempty"`
}

// StatusForCustomer returns the request if phone owns it. The driver's
// offset position is included while the driver is en route and fresh.
func (s *Service) StatusForCustomer(ctx context.Context, id types.ID, phone string) (*CustomerStatus, error) {
	req, err := s.ownedBy(ctx, id, phone)
	if err != nil {
		return nil, err
	}
	out := &CustomerStatus{Request: req}
	if req.Status.Assigned() {
		out.Driver = s.driverInfo(ctx, req)
	}
	if req.Status == StatusEnRoute && req.DriverID != nil && s.locations != nil {
		if loc, err := s.locations.PublicLocation(ctx, *req.DriverID); err == nil && !loc.IsStale {
			out.DriverLocation = loc
		}
	}
	return out, nil
}

// CancelByCustomer cancels on behalf of the customer identified by phone.
func (s *Service) CancelByCustomer(ctx context.Context, id types.ID, phone, reason string) (*Request, error) {
	if _, err := s.ownedBy(ctx, id, phone); err != nil {
		return nil, err
	}
	return s.Cancel(ctx, CancelCommand{ID: id, CancelledBy: CancelledByCustomer, Reason: reason})
}

func (s *Service) ownedBy(ctx context.Context, id types.ID, phone string) (*Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if phone == "" || req.CustomerPhone != phone {
		return nil, apperr.New(apperr.KindUnauthorized, "ride request %s does not belong to this customer", id)
	}
	return req, nil
}

func (s *Service) setDriverStatus(ctx context.Context, driverID types.ID, status driver.Status) {
	if s.drivers == nil {
		return
	}
	if err := s.drivers.SetStatus(ctx, driverID, status); err != nil {
		s.log.Warn("driver_status_update_failed", "driver_id", driverID, "status", status, "err", err)
	}
}

func (s *Service) recomputeGroup(ctx context.Context, groupID *types.ID) {
	if groupID == nil || s.groups == nil {
		return
	}
	if err := s.groups.Recompute(ctx, *groupID); err != nil {
		s.log.Warn("group_recompute_failed", "group_id", *groupID, "err", err)
	}
}
