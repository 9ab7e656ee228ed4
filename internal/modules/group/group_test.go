package group

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hailing/internal/apperr"
	"hailing/internal/config"
	"hailing/internal/modules/driver"
	"hailing/internal/modules/location"
	"hailing/internal/modules/pricing"
	"hailing/internal/modules/ride"
	"hailing/internal/notify"
	"hailing/internal/testutil"
	"hailing/internal/types"
)

func TestSeatPlan(t *testing.T) {
	tests := []struct {
		passengers int
		want       []int
	}{
		{1, []int{1}},
		{3, []int{3}},
		{4, []int{3, 1}},
		{6, []int{3, 3}},
		{7, []int{3, 3, 1}},
		{10, []int{3, 3, 3, 1}},
	}
	for _, tt := range tests {
		got := SeatPlan(tt.passengers)
		if !slices.Equal(got, tt.want) {
			t.Errorf("SeatPlan(%d) = %v, want %v", tt.passengers, got, tt.want)
		}
		if VehiclesRequired(tt.passengers) != len(tt.want) {
			t.Errorf("VehiclesRequired(%d) = %d, want %d", tt.passengers, VehiclesRequired(tt.passengers), len(tt.want))
		}
	}
}

func TestFold(t *testing.T) {
	const (
		p  = ride.StatusPending
		a  = ride.StatusAccepted
		e  = ride.StatusEnRoute
		c  = ride.StatusCompleted
		x  = ride.StatusCancelled
		ex = ride.StatusExpired
	)
	tests := []struct {
		name     string
		children []ride.Status
		want     Status
	}{
		{"no children", nil, StatusPending},
		{"all pending", []ride.Status{p, p, p}, StatusPending},
		{"one accepted", []ride.Status{a, p, p}, StatusPartiallyAccepted},
		{"accepted and cancelled", []ride.Status{a, x}, StatusPartiallyAccepted},
		{"all accepted tier", []ride.Status{a, e, c}, StatusFullyAccepted},
		{"all en route", []ride.Status{e, e}, StatusFullyAccepted},
		{"all completed", []ride.Status{c, c, c}, StatusCompleted},
		{"all cancelled", []ride.Status{x, x}, StatusCancelled},
		{"partial cancellation", []ride.Status{x, p}, StatusPending},
		{"expired and cancelled", []ride.Status{ex, x}, StatusExpired},
		{"all expired", []ride.Status{ex, ex}, StatusExpired},
		{"expired with pending", []ride.Status{ex, p}, StatusPending},
		{"expired with accepted", []ride.Status{ex, a}, StatusPartiallyAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fold(tt.children); got != tt.want {
				t.Fatalf("Fold(%v) = %s, want %s", tt.children, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Coordinator with the real ride service
// ---------------------------------------------------------------------------

var (
	pickup      = types.Point{Lat: -4.2800, Lng: 39.5950}
	destination = types.Point{Lat: -4.3150, Lng: 39.5750}
)

type fixture struct {
	groups *Service
	rides  *ride.Service
	store  *MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	drivers := driver.NewService(driver.NewMemoryStore())
	for i := 1; i <= 4; i++ {
		v := types.ID(fmt.Sprintf("tt-%02d", i))
		if err := drivers.Register(ctx, &driver.Driver{ID: types.ID(fmt.Sprintf("d%d", i)), Name: "Driver", VehicleID: &v}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	cfg := config.DefaultHailing()
	dispatcher := notify.NewDispatcher(&notify.Recorder{}, nil)
	locations := location.NewService(location.Deps{Store: location.NewMemoryStore(), Drivers: drivers, Notifier: dispatcher}, cfg)
	rides := ride.NewService(ride.Deps{
		Store:     ride.NewMemoryStore(),
		Drivers:   locations,
		Profiles:  drivers,
		Locations: locations,
		Notifier:  dispatcher,
	}, cfg)
	store := NewMemoryStore()
	groups := NewService(store, rides, nil, nil)
	rides.SetGroupRecomputer(groups)
	return &fixture{groups: groups, rides: rides, store: store}
}

func (f *fixture) status(t *testing.T, id types.ID) Status {
	t.Helper()
	b, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	return b.Status
}

func createSeven(t *testing.T, f *fixture) *View {
	t.Helper()
	view, err := f.groups.CreateGroup(context.Background(), CreateCommand{
		CustomerPhone:   "+254700000001",
		Pickup:          pickup,
		Destination:     destination,
		TotalPassengers: 7,
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return view
}

func TestCreateGroup_SplitsAcrossTuktuks(t *testing.T) {
	f := newFixture(t)
	view := createSeven(t, f)

	if view.VehiclesRequired != 3 || len(view.Rides) != 3 {
		t.Fatalf("expected 3 tuktuks, got %d with %d rides", view.VehiclesRequired, len(view.Rides))
	}
	var seats []int
	for i, r := range view.Rides {
		seats = append(seats, r.PassengerCount)
		if r.VehicleSequence != i+1 || r.GroupID == nil || *r.GroupID != view.ID {
			t.Fatalf("leg %d not tagged: %+v", i, r)
		}
		if r.EstimatedFare != view.FarePerVehicle {
			t.Fatalf("leg fare %v differs from per-tuktuk fare %v", r.EstimatedFare, view.FarePerVehicle)
		}
	}
	if !slices.Equal(seats, []int{3, 3, 1}) {
		t.Fatalf("seats = %v, want [3 3 1]", seats)
	}
	if view.TotalFare != types.Round(view.FarePerVehicle*3, 2) {
		t.Fatalf("total fare = %v, want 3 x %v", view.TotalFare, view.FarePerVehicle)
	}
	if view.Status != StatusPending {
		t.Fatalf("status = %s, want pending", view.Status)
	}
}

func TestCreateGroup_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range []int{0, MaxPassengers + 1} {
		_, err := f.groups.CreateGroup(ctx, CreateCommand{CustomerPhone: "p", Pickup: pickup, Destination: destination, TotalPassengers: n})
		if !errors.Is(err, apperr.ErrBadRequest) {
			t.Fatalf("passengers=%d: expected bad request, got %v", n, err)
		}
	}
	_, err := f.groups.CreateGroup(ctx, CreateCommand{Pickup: pickup, Destination: destination, TotalPassengers: 4})
	if !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("missing phone: expected bad request, got %v", err)
	}
}

func TestGroupStatusFollowsChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := createSeven(t, f)

	if _, err := f.rides.Accept(ctx, view.Rides[0].ID, "d1"); err != nil {
		t.Fatalf("accept leg 1: %v", err)
	}
	if s := f.status(t, view.ID); s != StatusPartiallyAccepted {
		t.Fatalf("after one accept: %s", s)
	}

	if _, err := f.rides.Accept(ctx, view.Rides[1].ID, "d2"); err != nil {
		t.Fatalf("accept leg 2: %v", err)
	}
	if _, err := f.rides.Accept(ctx, view.Rides[2].ID, "d3"); err != nil {
		t.Fatalf("accept leg 3: %v", err)
	}
	if s := f.status(t, view.ID); s != StatusFullyAccepted {
		t.Fatalf("after all accepted: %s", s)
	}
	b, _ := f.store.Get(ctx, view.ID)
	if b.FullyAcceptedAt == nil {
		t.Fatal("fully_accepted_at not stamped")
	}

	for i, r := range view.Rides {
		if _, err := f.rides.Complete(ctx, ride.CompleteCommand{ID: r.ID}); err != nil {
			t.Fatalf("complete leg %d: %v", i+1, err)
		}
		want := StatusFullyAccepted
		if i == len(view.Rides)-1 {
			want = StatusCompleted
		}
		if s := f.status(t, view.ID); s != want {
			t.Fatalf("after completing leg %d: %s, want %s", i+1, s, want)
		}
	}

	if err := f.groups.Recompute(ctx, view.ID); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if s := f.status(t, view.ID); s != StatusCompleted {
		t.Fatalf("recompute changed a settled group: %s", s)
	}
}

func TestGroupCancelledOnlyWhenAllLegsCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := createSeven(t, f)

	for i, r := range view.Rides {
		if _, err := f.rides.Cancel(ctx, ride.CancelCommand{ID: r.ID, CancelledBy: ride.CancelledByCustomer}); err != nil {
			t.Fatalf("cancel leg %d: %v", i+1, err)
		}
		want := StatusPending
		if i == len(view.Rides)-1 {
			want = StatusCancelled
		}
		if s := f.status(t, view.ID); s != want {
			t.Fatalf("after cancelling leg %d: %s, want %s", i+1, s, want)
		}
	}
}

func TestGetReturnsChildrenInOrder(t *testing.T) {
	f := newFixture(t)
	view := createSeven(t, f)

	got, err := f.groups.Get(context.Background(), view.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i, r := range got.Rides {
		if r.VehicleSequence != i+1 {
			t.Fatalf("rides out of order: %d at %d", r.VehicleSequence, i)
		}
	}
	if _, err := f.groups.Get(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Concurrent recomputes
// ---------------------------------------------------------------------------

// gatedRides serves the current child statuses. The first ListByGroup call
// signals entered and then waits for release before returning its snapshot.
type gatedRides struct {
	mu       sync.Mutex
	statuses []ride.Status
	calls    int
	entered  chan struct{}
	release  chan struct{}
}

func (g *gatedRides) set(statuses ...ride.Status) {
	g.mu.Lock()
	g.statuses = statuses
	g.mu.Unlock()
}

func (g *gatedRides) ListByGroup(_ context.Context, groupID types.ID) ([]ride.Request, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	out := make([]ride.Request, len(g.statuses))
	for i, st := range g.statuses {
		out[i] = ride.Request{ID: types.ID(fmt.Sprintf("leg-%d", i+1)), Status: st, GroupID: &groupID, VehicleSequence: i + 1}
	}
	g.mu.Unlock()
	if first {
		close(g.entered)
		<-g.release
	}
	return out, nil
}

func (g *gatedRides) ValidateCreate(ride.CreateCommand) error { return nil }

func (g *gatedRides) Quote(types.Point, types.Point) pricing.Quote { return pricing.Quote{} }

func (g *gatedRides) Cancel(context.Context, ride.CancelCommand) (*ride.Request, error) {
	return nil, nil
}

func (g *gatedRides) CreateGroupLeg(context.Context, ride.CreateCommand, types.ID, int) (*ride.Request, error) {
	return nil, nil
}

func TestRecompute_ConcurrentRunsKeepNewestFold(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Create(ctx, &Booking{ID: "g1", Status: StatusPending, TotalPassengers: 6, VehiclesRequired: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	rides := &gatedRides{entered: make(chan struct{}), release: make(chan struct{})}
	rides.set(ride.StatusAccepted, ride.StatusPending)
	groups := NewService(store, rides, nil, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- groups.Recompute(ctx, "g1")
	}()
	<-rides.entered

	// The second leg is accepted while the first run holds its old snapshot.
	rides.set(ride.StatusAccepted, ride.StatusAccepted)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- groups.Recompute(ctx, "g1")
	}()
	time.Sleep(20 * time.Millisecond)
	close(rides.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("recompute: %v", err)
		}
	}
	b, err := store.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Status != StatusFullyAccepted {
		t.Fatalf("status = %s with every leg accepted, want fully_accepted", b.Status)
	}
}

func TestPostgresUpdateStatusSerialises(t *testing.T) {
	db := testutil.NewPool(t, "trips", "ride_requests", "group_bookings")
	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	b := &Booking{
		ID: "g-pg-1", CustomerPhone: "+254700000001", Pickup: pickup, Destination: destination,
		TotalPassengers: 6, VehiclesRequired: 2, FarePerVehicle: 300, TotalFare: 600,
		Status: StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}

	const runs = 4
	var inside atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.UpdateStatus(ctx, b.ID, now, func(cur *Booking) (Status, error) {
				if inside.Add(1) != 1 {
					return "", errors.New("two updates ran at once")
				}
				defer inside.Add(-1)
				time.Sleep(10 * time.Millisecond)
				return StatusPartiallyAccepted, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("update status: %v", err)
		}
	}
	got, err := store.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPartiallyAccepted {
		t.Fatalf("status = %s, want partially_accepted", got.Status)
	}
}
