// README: Trip service records completed rides, collects one customer rating per trip, and tracks payment status.
package trip

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hailing/internal/apperr"
	"hailing/internal/config"
	"hailing/internal/logging"
	"hailing/internal/modules/ride"
	"hailing/internal/types"
)

type Requests interface {
	Get(ctx context.Context, id types.ID) (*ride.Request, error)
}

type Ratings interface {
	AddRating(ctx context.Context, driverID types.ID, rating int) (float64, error)
}

type Deps struct {
	Store    Store
	Requests Requests
	Drivers  Ratings
	Logger   *slog.Logger
	Clock    func() time.Time
}

type Service struct {
	store           Store
	requests        Requests
	drivers         Ratings
	log             *slog.Logger
	now             func() time.Time
	ratingsEnabled  bool
	lowRatingCutoff float64
}

func NewService(deps Deps, cfg config.Hailing) *Service {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:           deps.Store,
		requests:        deps.Requests,
		drivers:         deps.Drivers,
		log:             logging.OrDefault(deps.Logger),
		now:             now,
		ratingsEnabled:  cfg.EnableCustomerRatings,
		lowRatingCutoff: cfg.MinimumRatingThreshold,
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Trip, error) {
	return s.store.Get(ctx, id)
}

// CreateFromRequest records the trip for a completed ride. Calling it again
// for the same ride returns the existing trip.
func (s *Service) CreateFromRequest(ctx context.Context, requestID types.ID) (*Trip, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != ride.StatusCompleted {
		return nil, apperr.New(apperr.KindInvalidState, "ride request %s is %s, not completed", req.ID, req.Status)
	}
	if req.DriverID == nil || req.VehicleID == nil {
		return nil, apperr.New(apperr.KindInvalidState, "ride request %s has no driver or tuktuk", req.ID)
	}
	fare := req.EstimatedFare
	if req.ActualFare != nil {
		fare = *req.ActualFare
	}
	t, created, err := s.store.CreateOnce(ctx, &Trip{
		ID:            types.ID(uuid.NewString()),
		RideRequestID: req.ID,
		DriverID:      *req.DriverID,
		VehicleID:     *req.VehicleID,
		CustomerPhone: req.CustomerPhone,
		StartedAt:     req.AcceptedAt,
		EndedAt:       req.CompletedAt,
		DistanceKm:    req.EstimatedDistanceKm,
		Fare:          fare,
		PaymentStatus: PaymentPending,
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("trip_created", "trip_id", t.ID, "request_id", req.ID, "driver_id", t.DriverID, "fare", t.Fare)
	}
	return t, nil
}

// RideCompleted lets the trip ledger consume completion events in-process.
func (s *Service) RideCompleted(ctx context.Context, ev ride.CompletionEvent) error {
	_, err := s.CreateFromRequest(ctx, ev.RequestID)
	return err
}

type RateCommand struct {
	TripID  types.ID
	Rating  int
	Comment string
}

// Rate stores the customer's rating once and folds it into the driver's
// average. Ratings below the configured threshold are logged for review.
func (s *Service) Rate(ctx context.Context, cmd RateCommand) (*Trip, error) {
	if !s.ratingsEnabled {
		return nil, apperr.New(apperr.KindInvalidState, "customer ratings are disabled")
	}
	if cmd.Rating < MinRating || cmd.Rating > MaxRating {
		return nil, apperr.New(apperr.KindBadRequest, "rating must be between %d and %d", MinRating, MaxRating)
	}
	t, ok, err := s.store.Rate(ctx, cmd.TripID, cmd.Rating, cmd.Comment, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindConflict, "trip %s is already rated", cmd.TripID)
	}

	if s.drivers != nil {
		avg, err := s.drivers.AddRating(ctx, t.DriverID, cmd.Rating)
		if err != nil {
			s.log.Warn("driver_rating_update_failed", "driver_id", t.DriverID, "trip_id", t.ID, "err", err)
		} else {
			s.log.Info("driver_rated", "driver_id", t.DriverID, "trip_id", t.ID, "rating", cmd.Rating, "average", avg)
		}
	}
	if float64(cmd.Rating) < s.lowRatingCutoff {
		s.log.Warn("low_driver_rating", "driver_id", t.DriverID, "trip_id", t.ID, "rating", cmd.Rating, "comment", cmd.Comment)
	}
	return t, nil
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, id types.ID, status PaymentStatus) (*Trip, error) {
	if !status.Valid() {
		return nil, apperr.New(apperr.KindBadRequest, "unknown payment status %q", status)
	}
	t, err := s.store.SetPaymentStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.log.Info("trip_payment_status", "trip_id", id, "status", status)
	return t, nil
}
