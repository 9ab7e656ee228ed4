package ride

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hailing/internal/apperr"
	"hailing/internal/config"
	"hailing/internal/geo"
	"hailing/internal/modules/driver"
	"hailing/internal/modules/location"
	"hailing/internal/notify"
	"hailing/internal/types"
)

// ---------------------------------------------------------------------------
// Test fixtures
// ---------------------------------------------------------------------------

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []CompletionEvent
}

func (s *recordingSink) RideCompleted(_ context.Context, ev CompletionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

type recordingGroups struct {
	mu  sync.Mutex
	ids []types.ID
}

func (g *recordingGroups) Recompute(_ context.Context, id types.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids = append(g.ids, id)
	return nil
}

func (g *recordingGroups) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}

type fixture struct {
	svc       *Service
	store     *MemoryStore
	drivers   *driver.Service
	locations *location.Service
	pub       *notify.Recorder
	sink      *recordingSink
	groups    *recordingGroups
	clock     *fakeClock
	cfg       config.Hailing
}

var (
	pickup      = types.Point{Lat: -4.2800, Lng: 39.5950}
	destination = types.Point{Lat: -4.3150, Lng: 39.5750}
)

func newFixture(t *testing.T, mutate func(*config.Hailing), driverIDs ...types.ID) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := config.DefaultHailing()
	cfg.CancellationFee = 50
	cfg.PrivacySalt = "test-salt"
	if mutate != nil {
		mutate(&cfg)
	}

	if len(driverIDs) == 0 {
		driverIDs = []types.ID{"d1", "d2"}
	}
	drivers := driver.NewService(driver.NewMemoryStore())
	for i, id := range driverIDs {
		v := types.ID(fmt.Sprintf("tt-%02d", i+1))
		if err := drivers.Register(ctx, &driver.Driver{ID: id, Name: "Driver " + string(id), VehicleID: &v}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if err := drivers.Register(ctx, &driver.Driver{ID: "novehicle", Name: "Walker"}); err != nil {
		t.Fatalf("register novehicle: %v", err)
	}

	pub := &notify.Recorder{}
	dispatcher := notify.NewDispatcher(pub, nil)
	clock := newFakeClock()
	locations := location.NewService(location.Deps{
		Store:    location.NewMemoryStore(),
		Drivers:  drivers,
		Notifier: dispatcher,
		Clock:    clock.Now,
	}, cfg)

	store := NewMemoryStore()
	sink := &recordingSink{}
	groups := &recordingGroups{}
	svc := NewService(Deps{
		Store:       store,
		Drivers:     locations,
		Profiles:    drivers,
		Locations:   locations,
		Notifier:    dispatcher,
		Completions: sink,
		Clock:       clock.Now,
	}, cfg)
	svc.SetGroupRecomputer(groups)

	return &fixture{
		svc: svc, store: store, drivers: drivers, locations: locations,
		pub: pub, sink: sink, groups: groups, clock: clock, cfg: cfg,
	}
}

func (f *fixture) create(t *testing.T, phone string) *Request {
	t.Helper()
	req, err := f.svc.Create(context.Background(), CreateCommand{
		CustomerPhone:  phone,
		Pickup:         pickup,
		Destination:    destination,
		PassengerCount: 2,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func (f *fixture) driverStatus(t *testing.T, id types.ID) driver.Status {
	t.Helper()
	d, err := f.drivers.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get driver %s: %v", id, err)
	}
	return d.Status
}

// ---------------------------------------------------------------------------
// Transition table
// ---------------------------------------------------------------------------

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusAccepted, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusEnRoute, false},
		{StatusPending, StatusCompleted, false},
		{StatusAccepted, StatusEnRoute, true},
		{StatusAccepted, StatusCompleted, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusAccepted, StatusExpired, false},
		{StatusEnRoute, StatusCompleted, true},
		{StatusEnRoute, StatusCancelled, true},
		{StatusEnRoute, StatusAccepted, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusExpired, StatusAccepted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	for _, s := range allStatuses {
		if s.Terminal() != (len(AllowedTransitions[s]) == 0) {
			t.Errorf("%s: Terminal() disagrees with the transition table", s)
		}
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate_SetsFareAndDeadline(t *testing.T) {
	f := newFixture(t, nil)
	req := f.create(t, "+254700000001")

	if req.Status != StatusPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
	want := f.svc.Quote(pickup, destination)
	if req.EstimatedFare != want.Fare || req.EstimatedDistanceKm != want.DistanceKm {
		t.Fatalf("fare/distance = %v/%v, want %v/%v", req.EstimatedFare, req.EstimatedDistanceKm, want.Fare, want.DistanceKm)
	}
	if !req.ExpiresAt.Equal(f.clock.Now().Add(f.cfg.RequestTimeout)) {
		t.Fatalf("expires_at = %v, want now+%v", req.ExpiresAt, f.cfg.RequestTimeout)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name string
		cmd  CreateCommand
	}{
		{"missing phone", CreateCommand{Pickup: pickup, Destination: destination, PassengerCount: 1}},
		{"no passengers", CreateCommand{CustomerPhone: "p", Pickup: pickup, Destination: destination}},
		{"too many passengers", CreateCommand{CustomerPhone: "p", Pickup: pickup, Destination: destination, PassengerCount: 4}},
		{"same point", CreateCommand{CustomerPhone: "p", Pickup: pickup, Destination: pickup, PassengerCount: 1}},
		{"bad latitude", CreateCommand{CustomerPhone: "p", Pickup: types.Point{Lat: 91}, Destination: destination, PassengerCount: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.cmd)
			if !errors.Is(err, apperr.ErrBadRequest) {
				t.Fatalf("expected bad request, got %v", err)
			}
		})
	}
}

func TestCreate_OutsideServiceArea(t *testing.T) {
	area, err := geo.NewServiceArea(geo.Ring{
		{39.55, -4.35}, {39.62, -4.35}, {39.62, -4.25}, {39.55, -4.25}, {39.55, -4.35},
	})
	if err != nil {
		t.Fatalf("service area: %v", err)
	}
	f := newFixture(t, func(c *config.Hailing) { c.ServiceArea = area })

	f.create(t, "+254700000001")

	_, err = f.svc.Create(context.Background(), CreateCommand{
		CustomerPhone:  "+254700000002",
		Pickup:         types.Point{Lat: -1.2921, Lng: 36.8219},
		Destination:    destination,
		PassengerCount: 1,
	})
	if !errors.Is(err, apperr.ErrOutsideServiceArea) {
		t.Fatalf("expected outside service area, got %v", err)
	}
}

func TestCreate_ActiveLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.create(t, "+254700000001")

	_, err := f.svc.Create(ctx, CreateCommand{CustomerPhone: "+254700000001", Pickup: pickup, Destination: destination, PassengerCount: 1})
	if !errors.Is(err, apperr.ErrTooManyActiveRequests) {
		t.Fatalf("expected too many active requests, got %v", err)
	}

	f.create(t, "+254700000009")

	if _, err := f.svc.Cancel(ctx, CancelCommand{ID: first.ID, CancelledBy: CancelledByCustomer}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.create(t, "+254700000001")
}

func TestCreate_ConcurrentRespectsLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(ctx, CreateCommand{CustomerPhone: "+254700000001", Pickup: pickup, Destination: destination, PassengerCount: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, apperr.ErrTooManyActiveRequests) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
}

// ---------------------------------------------------------------------------
// Accept
// ---------------------------------------------------------------------------

func TestAccept_BindsDriverAndNotifies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := f.create(t, "+254700000001")

	got, err := f.svc.Accept(ctx, req.ID, "d1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != StatusAccepted {
		t.Fatalf("status = %s, want accepted", got.Status)
	}
	if got.DriverID == nil || *got.DriverID != "d1" || got.VehicleID == nil || *got.VehicleID != "tt-01" {
		t.Fatalf("driver/vehicle not bound: %+v", got)
	}
	if got.AcceptedAt == nil || !got.AcceptedAt.Equal(f.clock.Now()) {
		t.Fatalf("accepted_at not stamped: %v", got.AcceptedAt)
	}
	if s := f.driverStatus(t, "d1"); s != driver.StatusEnRoute {
		t.Fatalf("driver status = %s, want en_route", s)
	}
	msgs := f.pub.ByEvent(notify.EventRideAccepted)
	if len(msgs) != 1 || msgs[0].User != "+254700000001" {
		t.Fatalf("expected ride_accepted to the customer, got %+v", msgs)
	}
}

func TestAccept_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := f.create(t, "+254700000001")
	if _, err := f.svc.Accept(ctx, req.ID, "novehicle"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state without vehicle, got %v", err)
	}
	if _, err := f.svc.Accept(ctx, "missing", "d1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.Accept(ctx, req.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Accept(ctx, req.ID, "d2"); !errors.Is(err, apperr.ErrAlreadyTaken) {
		t.Fatalf("expected already taken, got %v", err)
	}

	other := f.create(t, "+254700000002")
	if _, err := f.svc.Accept(ctx, other.ID, "d1"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state for busy driver, got %v", err)
	}

	if _, err := f.svc.Cancel(ctx, CancelCommand{ID: other.ID, CancelledBy: CancelledByCustomer}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Accept(ctx, other.ID, "d2"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for cancelled request, got %v", err)
	}
}

func TestAccept_AfterDeadlineExpires(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := f.create(t, "+254700000001")

	f.clock.Advance(f.cfg.RequestTimeout + time.Second)

	if _, err := f.svc.Accept(ctx, req.ID, "d1"); !errors.Is(err, apperr.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	got, err := f.svc.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("stored status = %s, want expired", got.Status)
	}
	if s := f.driverStatus(t, "d1"); s == driver.StatusEnRoute {
		t.Fatal("driver must not be bound to an expired request")
	}
	if _, err := f.svc.Accept(ctx, req.ID, "d2"); !errors.Is(err, apperr.ErrExpired) {
		t.Fatalf("second accept: expected expired, got %v", err)
	}
}

func TestAccept_AtDeadlineSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	req := f.create(t, "+254700000001")

	f.clock.Advance(f.cfg.RequestTimeout)

	if _, err := f.svc.Accept(context.Background(), req.ID, "d1"); err != nil {
		t.Fatalf("accept at the deadline: %v", err)
	}
}

func TestAccept_GroupLegRecomputes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	leg, err := f.svc.CreateGroupLeg(ctx, CreateCommand{
		CustomerPhone: "+254700000001", Pickup: pickup, Destination: destination, PassengerCount: 3,
	}, "g1", 1)
	if err != nil {
		t.Fatalf("create leg: %v", err)
	}
	if leg.GroupID == nil || *leg.GroupID != "g1" || leg.VehicleSequence != 1 {
		t.Fatalf("group tag missing: %+v", leg)
	}
	if _, err := f.svc.Accept(ctx, leg.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if f.groups.calls() != 1 {
		t.Fatalf("expected 1 group recompute, got %d", f.groups.calls())
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestMarkEnRoute(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := f.create(t, "+254700000001")

	if _, err := f.svc.MarkEnRoute(ctx, req.ID, ""); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from pending, got %v", err)
	}
	if _, err := f.svc.Accept(ctx, req.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.MarkEnRoute(ctx, req.ID, "d2"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for another driver, got %v", err)
	}
	got, err := f.svc.MarkEnRoute(ctx, req.ID, "d1")
	if err != nil {
		t.Fatalf("en route: %v", err)
	}
	if got.Status != StatusEnRoute || got.EnRouteAt == nil {
		t.Fatalf("unexpected request after en route: %+v", got)
	}
	if _, err := f.svc.MarkEnRoute(ctx, req.ID, "d1"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition when already en route, got %v", err)
	}
	if len(f.pub.ByEvent(notify.EventDriverEnRoute)) != 1 {
		t.Fatal("expected one driver_enroute notification")
	}
}

func TestComplete_FreesDriverAndEmitsEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := f.create(t, "+254700000001")

	if _, err := f.svc.Complete(ctx, CompleteCommand{ID: req.ID}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from pending, got %v", err)
	}
	if _, err := f.svc.Accept(ctx, req.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.MarkEnRoute(ctx, req.ID, "d1"); err != nil {
		t.Fatalf("en route: %v", err)
	}
	fare := 420.0
	got, err := f.svc.Complete(ctx, CompleteCommand{ID: req.ID, DriverID: "d1", ActualFare: &fare})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != StatusCompleted || got.ActualFare == nil || *got.ActualFare != fare {
		t.Fatalf("unexpected completed request: %+v", got)
	}
	if s := f.driverStatus(t, "d1"); s != driver.StatusAvailable {
		t.Fatalf("driver status = %s, want available", s)
	}
	if len(f.sink.events) != 1 {
		t.Fatalf("expected 1 completion event, got %d", len(f.sink.events))
	}
	ev := f.sink.events[0]
	if ev.RequestID != req.ID || ev.DriverID != "d1" || ev.VehicleID != "tt-01" || ev.Fare != fare || ev.DistanceKm != req.EstimatedDistanceKm {
		t.Fatalf("unexpected completion event: %+v", ev)
	}
	d, _ := f.drivers.Get(ctx, "d1")
	if d.TotalRides != 1 {
		t.Fatalf("total rides = %d, want 1", d.TotalRides)
	}
}

func TestComplete_FromAcceptedDefaultsToEstimate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := f.create(t, "+254700000001")
	if _, err := f.svc.Accept(ctx, req.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, err := f.svc.Complete(ctx, CompleteCommand{ID: req.ID})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.ActualFare == nil || *got.ActualFare != req.EstimatedFare {
		t.Fatalf("actual fare = %v, want estimate %v", got.ActualFare, req.EstimatedFare)
	}
}

func TestCancel_FeeRules(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		by      CancelledBy
		wantFee float64
	}{
		{"customer within free period", 30 * time.Second, CancelledByCustomer, 0},
		{"customer at free period", 60 * time.Second, CancelledByCustomer, 0},
		{"customer after free period", 61 * time.Second, CancelledByCustomer, 50},
		{"driver after free period", 5 * time.Minute, CancelledByDriver, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			req := f.create(t, "+254700000001")
			if _, err := f.svc.Accept(ctx, req.ID, "d1"); err != nil {
				t.Fatalf("accept: %v", err)
			}
			f.clock.Advance(tt.elapsed)

			got, err := f.svc.Cancel(ctx, CancelCommand{ID: req.ID, CancelledBy: tt.by, Reason: "changed plans"})
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if got.CancellationFee != tt.wantFee {
				t.Fatalf("fee = %v, want %v", got.CancellationFee, tt.wantFee)
			}
			if got.CancelledBy != tt.by || got.CancellationReason != "changed plans" || got.CancelledAt == nil {
				t.Fatalf("cancellation fields not stored: %+v", got)
			}
			if s := f.driverStatus(t, "d1"); s != driver.StatusAvailable {
				t.Fatalf("driver status = %s, want available", s)
			}
		})
	}
}

func TestCancel_PendingHasNoFee(t *testing.T) {
	f := newFixture(t, nil)
	req := f.create(t, "+254700000001")
	f.clock.Advance(10 * time.Minute)
	got, err := f.svc.Cancel(context.Background(), CancelCommand{ID: req.ID, CancelledBy: CancelledByCustomer})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.CancellationFee != 0 {
		t.Fatalf("fee = %v, want 0", got.CancellationFee)
	}
}

func TestCancel_InvalidFromTerminal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	done := f.create(t, "+254700000001")
	if _, err := f.svc.Accept(ctx, done.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Complete(ctx, CompleteCommand{ID: done.ID}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, CancelCommand{ID: done.ID, CancelledBy: CancelledByCustomer}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from completed, got %v", err)
	}

	gone := f.create(t, "+254700000002")
	if _, err := f.svc.Cancel(ctx, CancelCommand{ID: gone.ID, CancelledBy: CancelledBySystem}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, CancelCommand{ID: gone.ID, CancelledBy: CancelledBySystem}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from cancelled, got %v", err)
	}

	if _, err := f.svc.Cancel(ctx, CancelCommand{ID: gone.ID, CancelledBy: "robot"}); !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("expected bad request for unknown canceller, got %v", err)
	}
}

func TestCancel_NotifiesTheOtherParty(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := f.create(t, "+254700000001")
	if _, err := f.svc.Accept(ctx, req.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.CancelByCustomer(ctx, req.ID, "+254700000001", "too slow"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	msgs := f.pub.ByEvent(notify.EventCustomerCancelled)
	if len(msgs) != 1 || msgs[0].User != "d1" {
		t.Fatalf("expected customer_cancelled to d1, got %+v", msgs)
	}

	other := f.create(t, "+254700000002")
	if _, err := f.svc.Cancel(ctx, CancelCommand{ID: other.ID, CancelledBy: CancelledBySystem}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	msgs = f.pub.ByEvent(notify.EventRideCancelled)
	if len(msgs) != 1 || msgs[0].User != "+254700000002" {
		t.Fatalf("expected ride_cancelled to the customer, got %+v", msgs)
	}
}

// ---------------------------------------------------------------------------
// Expiry
// ---------------------------------------------------------------------------

func TestExpireStale(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	old := f.create(t, "+254700000001")
	f.clock.Advance(20 * time.Second)
	fresh := f.create(t, "+254700000002")
	f.clock.Advance(15 * time.Second)

	n, err := f.svc.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d requests, want 1", n)
	}
	if got, _ := f.svc.Get(ctx, old.ID); got.Status != StatusExpired {
		t.Fatalf("old request status = %s, want expired", got.Status)
	}
	if got, _ := f.svc.Get(ctx, fresh.ID); got.Status != StatusPending {
		t.Fatalf("fresh request status = %s, want pending", got.Status)
	}

	pending, err := f.svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Fatalf("unexpected pending list: %+v", pending)
	}

	if n, _ := f.svc.ExpireStale(ctx); n != 0 {
		t.Fatalf("second sweep expired %d, want 0", n)
	}
}

func TestAcceptRacesExpirySweep(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := f.create(t, "+254700000001")
	f.clock.Advance(f.cfg.RequestTimeout + time.Second)

	var wg sync.WaitGroup
	var acceptErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, acceptErr = f.svc.Accept(ctx, req.ID, "d1")
	}()
	go func() {
		defer wg.Done()
		_, _ = f.svc.ExpireStale(ctx)
	}()
	wg.Wait()

	if !errors.Is(acceptErr, apperr.ErrExpired) {
		t.Fatalf("expected expired, got %v", acceptErr)
	}
	got, _ := f.svc.Get(ctx, req.ID)
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
}

// ---------------------------------------------------------------------------
// Customer views
// ---------------------------------------------------------------------------

func TestStatusForCustomer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := f.create(t, "+254700000001")

	if _, err := f.svc.StatusForCustomer(ctx, req.ID, "+254799999999"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := f.svc.CancelByCustomer(ctx, req.ID, "+254799999999", ""); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized cancel, got %v", err)
	}

	st, err := f.svc.StatusForCustomer(ctx, req.ID, "+254700000001")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Driver != nil || st.DriverLocation != nil {
		t.Fatalf("pending request must not expose a driver: %+v", st)
	}

	if _, err := f.locations.UpsertLocation(ctx, location.UpsertCommand{DriverID: "d1", Lat: -4.2810, Lng: 39.5940}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := f.svc.Accept(ctx, req.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	st, _ = f.svc.StatusForCustomer(ctx, req.ID, "+254700000001")
	if st.Driver == nil || st.Driver.ID != "d1" || st.Driver.VehicleID != "tt-01" {
		t.Fatalf("accepted request must expose the driver: %+v", st.Driver)
	}
	if st.DriverLocation != nil {
		t.Fatal("location is only shown while en route")
	}

	if _, err := f.svc.MarkEnRoute(ctx, req.ID, "d1"); err != nil {
		t.Fatalf("en route: %v", err)
	}
	st, _ = f.svc.StatusForCustomer(ctx, req.ID, "+254700000001")
	if st.DriverLocation == nil {
		t.Fatal("expected driver location while en route")
	}
	if st.DriverLocation.Lat == -4.2810 && st.DriverLocation.Lng == 39.5940 {
		t.Fatal("driver location must be offset")
	}

	f.clock.Advance(2 * f.cfg.StaleLocationThreshold)
	st, _ = f.svc.StatusForCustomer(ctx, req.ID, "+254700000001")
	if st.DriverLocation != nil {
		t.Fatal("stale driver location must be hidden")
	}
}

func TestActiveForDriver(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.ActiveForDriver(ctx, "d1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	req := f.create(t, "+254700000001")
	if _, err := f.svc.Accept(ctx, req.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, err := f.svc.ActiveForDriver(ctx, "d1")
	if err != nil || got.ID != req.ID {
		t.Fatalf("active = %v, %v", got, err)
	}
	if _, err := f.svc.Complete(ctx, CompleteCommand{ID: req.ID}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.ActiveForDriver(ctx, "d1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found after completion, got %v", err)
	}
}
