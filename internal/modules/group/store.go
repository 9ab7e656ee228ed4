package group

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
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id types.ID) (*Booking, error)
	// SetStatus writes status and stamps the first time the booking became
	// fully accepted or completed.
	SetStatus(ctx context.Context, id types.ID, status Status, at time.Time) error
	// UpdateStatus holds the booking exclusively while next computes the new
	// status, so two updates of one booking never interleave. A status equal
	// to the stored one writes nothing.
	UpdateStatus(ctx context.Context, id types.ID, at time.Time, next func(cur *Booking) (Status, error)) (from, to Status, err error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, b *Booking) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO group_bookings (
			id, customer_phone, customer_name,
			pickup_lat, pickup_lng, pickup_address, destination_lat, destination_lng, destination_address,
			total_passengers, vehicles_required, fare_per_vehicle, total_fare,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`,
		string(b.ID), b.CustomerPhone, b.CustomerName,
		b.Pickup.Lat, b.Pickup.Lng, b.PickupAddress, b.Destination.Lat, b.Destination.Lng, b.DestinationAddress,
		b.TotalPassengers, b.VehiclesRequired, b.FarePerVehicle, b.TotalFare,
		string(b.Status), b.CreatedAt,
	)
	return err
}

const bookingColumns = `id, customer_phone, customer_name,
	pickup_lat, pickup_lng, pickup_address, destination_lat, destination_lng, destination_address,
	total_passengers, vehicles_required, fare_per_vehicle::float8, total_fare::float8,
	status, created_at, updated_at, fully_accepted_at, completed_at`

const setStatusSQL = `
	UPDATE group_bookings
	SET status = $2,
	    updated_at = $3,
	    fully_accepted_at = CASE WHEN $2 = 'fully_accepted' THEN COALESCE(fully_accepted_at, $3) ELSE fully_accepted_at END,
	    completed_at = CASE WHEN $2 = 'completed' THEN COALESCE(completed_at, $3) ELSE completed_at END
	WHERE id = $1`

func scanBooking(row pgx.Row, id types.ID) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID, &b.CustomerPhone, &b.CustomerName,
		&b.Pickup.Lat, &b.Pickup.Lng, &b.PickupAddress, &b.Destination.Lat, &b.Destination.Lng, &b.DestinationAddress,
		&b.TotalPassengers, &b.VehiclesRequired, &b.FarePerVehicle, &b.TotalFare,
		&b.Status, &b.CreatedAt, &b.UpdatedAt, &b.FullyAcceptedAt, &b.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Booking, error) {
	return scanBooking(s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM group_bookings WHERE id = $1`, string(id)), id)
}

func (s *PostgresStore) SetStatus(ctx context.Context, id types.ID, status Status, at time.Time) error {
	tag, err := s.db.Exec(ctx, setStatusSQL, string(id), string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

// UpdateStatus locks the booking row for the length of one transaction.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id types.ID, at time.Time, next func(cur *Booking) (Status, error)) (Status, Status, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM group_bookings WHERE id = $1 FOR UPDATE`, string(id)), id)
	if err != nil {
		return "", "", err
	}
	to, err := next(cur)
	if err != nil {
		return cur.Status, cur.Status, err
	}
	if to == cur.Status {
		return cur.Status, to, nil
	}
	if _, err := tx.Exec(ctx, setStatusSQL, string(id), string(to), at); err != nil {
		return cur.Status, cur.Status, err
	}
	if err := tx.Commit(ctx); err != nil {
		return cur.Status, cur.Status, err
	}
	return cur.Status, to, nil
}

func notFound(id types.ID) error {
	return apperr.New(apperr.KindNotFound, "group booking %s not found", id)
}
