// README: Group coordinator splits a booking into per-tuktuk ride requests and folds their statuses back.
package group

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hailing/internal/apperr"
	"hailing/internal/logging"
	"hailing/internal/modules/pricing"
	"hailing/internal/modules/ride"
	"hailing/internal/types"
)

// Rides is the part of the ride service the coordinator drives.
type Rides interface {
	ValidateCreate(cmd ride.CreateCommand) error
	Quote(pickup, destination types.Point) pricing.Quote
	CreateGroupLeg(ctx context.Context, cmd ride.CreateCommand, groupID types.ID, sequence int) (*ride.Request, error)
	Cancel(ctx context.Context, cmd ride.CancelCommand) (*ride.Request, error)
	ListByGroup(ctx context.Context, groupID types.ID) ([]ride.Request, error)
}

type Service struct {
	store Store
	rides Rides
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, rides Rides, log *slog.Logger, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: store, rides: rides, log: logging.OrDefault(log), now: clock}
}

type CreateCommand struct {
	CustomerPhone      string
	CustomerName       string
	Pickup             types.Point
	PickupAddress      string
	Destination        types.Point
	DestinationAddress string
	TotalPassengers    int
}

// CreateGroup stores the booking and opens one Pending request per tuktuk.
// Every leg shares the route estimate, so the total is the leg fare times
// the number of tuktuks. If a leg cannot be created the legs already opened
// are cancelled and the booking is marked Cancelled.
func (s *Service) CreateGroup(ctx context.Context, cmd CreateCommand) (*View, error) {
	if cmd.TotalPassengers < 1 || cmd.TotalPassengers > MaxPassengers {
		return nil, apperr.New(apperr.KindBadRequest, "total passengers must be between 1 and %d", MaxPassengers)
	}
	leg := ride.CreateCommand{
		CustomerPhone:      cmd.CustomerPhone,
		CustomerName:       cmd.CustomerName,
		Pickup:             cmd.Pickup,
		PickupAddress:      cmd.PickupAddress,
		Destination:        cmd.Destination,
		DestinationAddress: cmd.DestinationAddress,
	}
	if err := s.rides.ValidateCreate(leg); err != nil {
		return nil, err
	}

	plan := SeatPlan(cmd.TotalPassengers)
	quote := s.rides.Quote(cmd.Pickup, cmd.Destination)
	now := s.now().UTC()
	b := &Booking{
		ID:                 types.ID(uuid.NewString()),
		CustomerPhone:      cmd.CustomerPhone,
		CustomerName:       cmd.CustomerName,
		Pickup:             cmd.Pickup,
		PickupAddress:      cmd.PickupAddress,
		Destination:        cmd.Destination,
		DestinationAddress: cmd.DestinationAddress,
		TotalPassengers:    cmd.TotalPassengers,
		VehiclesRequired:   len(plan),
		FarePerVehicle:     quote.Fare,
		TotalFare:          types.Round(quote.Fare*float64(len(plan)), 2),
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, err
	}

	view := &View{Booking: *b, Rides: make([]ride.Request, 0, len(plan))}
	for i, seats := range plan {
		leg.PassengerCount = seats
		r, err := s.rides.CreateGroupLeg(ctx, leg, b.ID, i+1)
		if err != nil {
			s.abandon(ctx, b.ID, view.Rides)
			return nil, err
		}
		view.Rides = append(view.Rides, *r)
	}
	s.log.Info("group_booking_created", "group_id", b.ID, "passengers", b.TotalPassengers, "tuktuks", b.VehiclesRequired, "total_fare", b.TotalFare)
	return view, nil
}

func (s *Service) abandon(ctx context.Context, id types.ID, legs []ride.Request) {
	for _, r := range legs {
		if _, err := s.rides.Cancel(ctx, ride.CancelCommand{ID: r.ID, CancelledBy: ride.CancelledBySystem, Reason: "group booking incomplete"}); err != nil {
			s.log.Warn("group_leg_cancel_failed", "group_id", id, "request_id", r.ID, "err", err)
		}
	}
	if err := s.store.SetStatus(ctx, id, StatusCancelled, s.now().UTC()); err != nil {
		s.log.Warn("group_cancel_failed", "group_id", id, "err", err)
	}
}

// Get returns the booking with its children in sequence order.
func (s *Service) Get(ctx context.Context, id types.ID) (*View, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rides, err := s.rides.ListByGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{Booking: *b, Rides: rides}, nil
}

// Recompute re-reads the children and stores the folded status. Runs for
// the same booking are serialised by the store, so the last writer always
// folded the newest children. Running it again with unchanged children
// writes nothing.
func (s *Service) Recompute(ctx context.Context, id types.ID) error {
	from, to, err := s.store.UpdateStatus(ctx, id, s.now().UTC(), func(_ *Booking) (Status, error) {
		rides, err := s.rides.ListByGroup(ctx, id)
		if err != nil {
			return "", err
		}
		statuses := make([]ride.Status, len(rides))
		for i, r := range rides {
			statuses[i] = r.Status
		}
		return Fold(statuses), nil
	})
	if err != nil {
		return err
	}
	if from != to {
		s.log.Info("group_booking_status", "group_id", id, "from", from, "to", to)
	}
	return nil
}
