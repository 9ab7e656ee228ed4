package trip

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hailing/internal/apperr"
	"hailing/internal/types"
)

type Store interface {
	// CreateOnce inserts t unless a trip already exists for its ride request.
	// It returns the stored trip and whether this call created it.
	CreateOnce(ctx context.Context, t *Trip) (*Trip, bool, error)
	Get(ctx context.Context, id types.ID) (*Trip, error)
	// Rate records a rating on an unrated trip. ok is false when the trip
	// was already rated.
	Rate(ctx context.Context, id types.ID, rating int, comment string, at time.Time) (*Trip, bool, error)
	SetPaymentStatus(ctx context.Context, id types.ID, status PaymentStatus) (*Trip, error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const tripColumns = `id, ride_request_id, driver_id, vehicle_id, customer_phone,
	started_at, ended_at, distance_km, fare, payment_status, rating, rating_comment, rated_at`

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	var comment *string
	err := row.Scan(
		&t.ID, &t.RideRequestID, &t.DriverID, &t.VehicleID, &t.CustomerPhone,
		&t.StartedAt, &t.EndedAt, &t.DistanceKm, &t.Fare, &t.PaymentStatus, &t.Rating, &comment, &t.RatedAt,
	)
	if err != nil {
		return nil, err
	}
	if comment != nil {
		t.RatingComment = *comment
	}
	return &t, nil
}

func (s *PostgresStore) CreateOnce(ctx context.Context, t *Trip) (*Trip, bool, error) {
	created, err := scanTrip(s.db.QueryRow(ctx, `
		INSERT INTO trips (id, ride_request_id, driver_id, vehicle_id, customer_phone,
			started_at, ended_at, distance_km, fare, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ride_request_id) DO NOTHING
		RETURNING `+tripColumns,
		string(t.ID), string(t.RideRequestID), string(t.DriverID), string(t.VehicleID), t.CustomerPhone,
		t.StartedAt, t.EndedAt, t.DistanceKm, t.Fare, string(t.PaymentStatus),
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	existing, err := scanTrip(s.db.QueryRow(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE ride_request_id = $1`, string(t.RideRequestID)))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	t, err := scanTrip(s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	return t, err
}

func (s *PostgresStore) Rate(ctx context.Context, id types.ID, rating int, comment string, at time.Time) (*Trip, bool, error) {
	t, err := scanTrip(s.db.QueryRow(ctx, `
		UPDATE trips SET rating = $2, rating_comment = NULLIF($3, ''), rated_at = $4
		WHERE id = $1 AND rating IS NULL
		RETURNING `+tripColumns,
		string(id), rating, comment, at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *PostgresStore) SetPaymentStatus(ctx context.Context, id types.ID, status PaymentStatus) (*Trip, error) {
	t, err := scanTrip(s.db.QueryRow(ctx,
		`UPDATE trips SET payment_status = $2 WHERE id = $1 RETURNING `+tripColumns,
		string(id), string(status),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	return t, err
}

func notFound(id types.ID) error {
	return apperr.New(apperr.KindNotFound, "trip %s not found", id)
}
