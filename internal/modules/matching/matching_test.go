// README: Matching tests covering candidate ranking, broadcast fan-out, and driver-facing lists.
package matching

import (
	"context"
	"sync"
	"testing"
	"time"

	"hailing/internal/config"
	"hailing/internal/modules/driver"
	"hailing/internal/modules/location"
	"hailing/internal/modules/ride"
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

var pickup = types.Point{Lat: -4.2800, Lng: 39.5950}

type fixture struct {
	matching  *Service
	rides     *ride.Service
	locations *location.Service
	pub       *notify.Recorder
	log       *MemoryDispatchLog
	clock     *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	drivers := driver.NewService(driver.NewMemoryStore())
	for _, d := range []struct {
		id, vehicle, account string
	}{
		{"near", "tt-01", "near@drivers"},
		{"mid", "tt-02", ""},
		{"far", "tt-03", ""},
		{"idle", "tt-04", ""},
	} {
		v := types.ID(d.vehicle)
		if err := drivers.Register(ctx, &driver.Driver{ID: types.ID(d.id), Name: d.id, UserAccount: d.account, VehicleID: &v}); err != nil {
			t.Fatalf("register %s: %v", d.id, err)
		}
	}

	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pub := &notify.Recorder{}
	dispatcher := notify.NewDispatcher(pub, nil)
	cfg := config.DefaultHailing()
	cfg.PrivacySalt = "test-salt"

	locations := location.NewService(location.Deps{
		Store: location.NewMemoryStore(), Drivers: drivers, Notifier: dispatcher, Clock: clock.Now,
	}, cfg)
	log := NewMemoryDispatchLog()
	m := NewService(Deps{
		Locations: locations,
		Profiles:  drivers,
		Notifier:  dispatcher,
		Dispatch:  log,
		Clock:     clock.Now,
	})
	rides := ride.NewService(ride.Deps{
		Store:       ride.NewMemoryStore(),
		Drivers:     locations,
		Profiles:    drivers,
		Locations:   locations,
		Broadcaster: m,
		Notifier:    dispatcher,
		Clock:       clock.Now,
	}, cfg)
	m.SetRequests(rides)

	return &fixture{matching: m, rides: rides, locations: locations, pub: pub, log: log, clock: clock}
}

func (f *fixture) ping(t *testing.T, id types.ID, lat, lng float64) {
	t.Helper()
	if _, err := f.locations.UpsertLocation(context.Background(), location.UpsertCommand{DriverID: id, Lat: lat, Lng: lng}); err != nil {
		t.Fatalf("ping %s: %v", id, err)
	}
}

// pingAll writes the far driver first so the newest-first listing order
// differs from distance order.
func (f *fixture) pingAll(t *testing.T) {
	t.Helper()
	f.ping(t, "far", -4.3500, 39.5600)
	f.ping(t, "near", -4.2805, 39.5948)
	f.ping(t, "mid", -4.2950, 39.5850)
	if _, err := f.locations.SetAvailability(context.Background(), "idle", false); err != nil {
		t.Fatalf("idle offline: %v", err)
	}
}

func (f *fixture) request(t *testing.T, phone string, p types.Point) *ride.Request {
	t.Helper()
	req, err := f.rides.Create(context.Background(), ride.CreateCommand{
		CustomerPhone:  phone,
		Pickup:         p,
		Destination:    types.Point{Lat: -4.3150, Lng: 39.5750},
		PassengerCount: 1,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

// ---------------------------------------------------------------------------
// Candidates and broadcast
// ---------------------------------------------------------------------------

func TestCandidatesFor_SortedByDistance(t *testing.T) {
	f := newFixture(t)
	f.pingAll(t)
	req := &ride.Request{ID: "r1", Pickup: pickup}

	got, err := f.matching.CandidatesFor(context.Background(), req)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	want := []types.ID{"near", "mid", "far"}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %+v", len(want), got)
	}
	for i, c := range got {
		if c.DriverID != want[i] {
			t.Fatalf("candidate %d = %s, want %s", i, c.DriverID, want[i])
		}
		if i > 0 && c.DistanceKm < got[i-1].DistanceKm {
			t.Fatalf("candidates not ascending: %+v", got)
		}
	}
}

// Both drivers round to the same display distance; the later ping lists
// first, so only exact-distance ordering puts the nearer one ahead.
func TestCandidatesFor_OrdersOnExactDistance(t *testing.T) {
	f := newFixture(t)
	f.ping(t, "near", -4.28290, 39.5950)
	f.clock.Advance(time.Second)
	f.ping(t, "mid", -4.28292, 39.5950)

	got, err := f.matching.CandidatesFor(context.Background(), &ride.Request{Pickup: pickup})
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 2 || got[0].DriverID != "near" || got[1].DriverID != "mid" {
		t.Fatalf("expected near before mid, got %+v", got)
	}
	if got[0].DistanceKm != 0.32 || got[1].DistanceKm != 0.32 {
		t.Fatalf("expected rounded display distances of 0.32, got %+v", got)
	}
}

func TestCandidatesFor_SkipsStaleAndUnavailable(t *testing.T) {
	f := newFixture(t)
	f.ping(t, "far", -4.3500, 39.5600)
	f.clock.Advance(90 * time.Second)
	f.ping(t, "near", -4.2805, 39.5948)
	f.ping(t, "mid", -4.2950, 39.5850)
	if err := f.locations.SetStatus(context.Background(), "mid", driver.StatusEnRoute); err != nil {
		t.Fatalf("set status: %v", err)
	}

	got, err := f.matching.CandidatesFor(context.Background(), &ride.Request{Pickup: pickup})
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 1 || got[0].DriverID != "near" {
		t.Fatalf("expected only the fresh available driver, got %+v", got)
	}
}

func TestNotifyNewRequest_BroadcastsToEveryCandidate(t *testing.T) {
	f := newFixture(t)
	f.pingAll(t)
	req := f.request(t, "+254700000001", pickup)

	msgs := f.pub.ByEvent(notify.EventNewRideRequest)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 pushes, got %d", len(msgs))
	}
	wantUsers := []string{"near@drivers", "mid", "far"}
	for i, m := range msgs {
		if m.User != wantUsers[i] {
			t.Fatalf("push %d went to %s, want %s", i, m.User, wantUsers[i])
		}
		p, ok := m.Payload.(RequestPayload)
		if !ok {
			t.Fatalf("unexpected payload type %T", m.Payload)
		}
		if p.RequestID != req.ID || p.EstimatedFare != req.EstimatedFare || !p.ExpiresAt.Equal(req.ExpiresAt) {
			t.Fatalf("payload does not describe the request: %+v", p)
		}
	}

	notified, err := f.matching.Notified(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("notified: %v", err)
	}
	if len(notified) != 3 {
		t.Fatalf("dispatch log has %v", notified)
	}
}

func TestNotifyNewRequest_NoDrivers(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, "+254700000001", pickup)
	if n := len(f.pub.ByEvent(notify.EventNewRideRequest)); n != 0 {
		t.Fatalf("expected no pushes, got %d", n)
	}
	notified, _ := f.matching.Notified(context.Background(), req.ID)
	if len(notified) != 0 {
		t.Fatalf("expected empty dispatch log, got %v", notified)
	}
}

// ---------------------------------------------------------------------------
// Driver-facing lists
// ---------------------------------------------------------------------------

func TestPendingForDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	items, err := f.matching.PendingForDriver(ctx, "near")
	if err != nil || len(items) != 0 {
		t.Fatalf("driver without location: items=%v err=%v", items, err)
	}

	f.pingAll(t)
	farReq := f.request(t, "+254700000001", types.Point{Lat: -4.3400, Lng: 39.5650})
	nearReq := f.request(t, "+254700000002", types.Point{Lat: -4.2810, Lng: 39.5945})
	taken := f.request(t, "+254700000003", pickup)
	if _, err := f.rides.Accept(ctx, taken.ID, "mid"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	items, err = f.matching.PendingForDriver(ctx, "near")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(items) != 2 || items[0].ID != nearReq.ID || items[1].ID != farReq.ID {
		t.Fatalf("unexpected pending order: %+v", items)
	}
	if items[0].DistanceToPickupKm > items[1].DistanceToPickupKm {
		t.Fatal("pending list not sorted by distance")
	}

	f.clock.Advance(time.Minute)
	items, _ = f.matching.PendingForDriver(ctx, "near")
	if len(items) != 0 {
		t.Fatalf("expired requests must not be listed, got %d", len(items))
	}
}

func TestNearbyDrivers(t *testing.T) {
	f := newFixture(t)
	f.pingAll(t)
	ctx := context.Background()

	all, err := f.matching.NearbyDrivers(ctx, nil, 0)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 drivers, got %d", len(all))
	}
	for _, d := range all {
		if d.DistanceKm != nil {
			t.Fatal("distance must be absent without a customer point")
		}
	}

	nearby, err := f.matching.NearbyDrivers(ctx, &pickup, 3)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(nearby) != 2 || nearby[0].DriverID != "near" || nearby[1].DriverID != "mid" {
		t.Fatalf("unexpected nearby list: %+v", nearby)
	}
	if nearby[0].Lat == -4.2805 && nearby[0].Lng == 39.5948 {
		t.Fatal("positions must be offset")
	}
}
