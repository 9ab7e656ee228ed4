// README: Ride request store contract with a PostgreSQL implementation.
package ride

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hailing/internal/apperr"
	"hailing/internal/types"
)

type Store interface {
	// Create inserts r unless the customer already holds maxActive or more
	// active requests. maxActive <= 0 disables the check.
	Create(ctx context.Context, r *Request, maxActive int) error
	Get(ctx context.Context, id types.ID) (*Request, error)
	// Accept moves a Pending request whose deadline has not passed at `at`
	// to Accepted in one conditional write. ok is false when the request
	// guard fails. A driver that already holds an Accepted or EnRoute request
	// gets an InvalidState error and nothing is written.
	Accept(ctx context.Context, id, driverID, vehicleID types.ID, at time.Time) (req *Request, ok bool, err error)
	// Expire moves a Pending request whose deadline passed before `at` to
	// Expired. ok is false when the guard fails.
	Expire(ctx context.Context, id types.ID, at time.Time) (bool, error)
	Transition(ctx context.Context, t Transition) (bool, error)
	ExpirePending(ctx context.Context, at time.Time) ([]ExpiredRef, error)
	ListPending(ctx context.Context, at time.Time) ([]Request, error)
	ActiveForDriver(ctx context.Context, driverID types.ID) (*Request, error)
	ListByGroup(ctx context.Context, groupID types.ID) ([]Request, error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, customer_phone, customer_name,
	pickup_lat, pickup_lng, pickup_address, destination_lat, destination_lng, destination_address,
	passenger_count, estimated_distance_km, estimated_fare, actual_fare,
	status, status_version, requested_at, expires_at,
	accepted_at, en_route_at, completed_at, cancelled_at,
	accepted_by_driver, accepted_by_vehicle, cancelled_by, cancellation_reason, cancellation_fee,
	group_booking_id, vehicle_sequence`

var (
	activeStatuses   = []string{string(StatusPending), string(StatusAccepted), string(StatusEnRoute)}
	assignedStatuses = []string{string(StatusAccepted), string(StatusEnRoute)}
)

// driverActiveIndex backs the one-assigned-ride-per-driver rule when two
// accepts by the same driver commit concurrently.
const driverActiveIndex = "idx_ride_requests_driver_active"

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var driverID, vehicleID, groupID, cancelledBy, reason *string
	err := row.Scan(
		&r.ID, &r.CustomerPhone, &r.CustomerName,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.PickupAddress, &r.Destination.Lat, &r.Destination.Lng, &r.DestinationAddress,
		&r.PassengerCount, &r.EstimatedDistanceKm, &r.EstimatedFare, &r.ActualFare,
		&r.Status, &r.StatusVersion, &r.RequestedAt, &r.ExpiresAt,
		&r.AcceptedAt, &r.EnRouteAt, &r.CompletedAt, &r.CancelledAt,
		&driverID, &vehicleID, &cancelledBy, &reason, &r.CancellationFee,
		&groupID, &r.VehicleSequence,
	)
	if err != nil {
		return nil, err
	}
	r.DriverID = toIDPtr(driverID)
	r.VehicleID = toIDPtr(vehicleID)
	r.GroupID = toIDPtr(groupID)
	if cancelledBy != nil {
		r.CancelledBy = CancelledBy(*cancelledBy)
	}
	if reason != nil {
		r.CancellationReason = *reason
	}
	return &r, nil
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Request, error) {
		r, err := scanRequest(row)
		if err != nil {
			return Request{}, err
		}
		return *r, nil
	})
}

// Create serialises inserts per customer with a transaction-scoped advisory
// lock so two concurrent requests cannot both pass the active limit.
func (s *PostgresStore) Create(ctx context.Context, r *Request, maxActive int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if maxActive > 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.CustomerPhone); err != nil {
			return err
		}
		var active int
		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM ride_requests
			WHERE customer_phone = $1 AND status = ANY($2)`, r.CustomerPhone, activeStatuses,
		).Scan(&active); err != nil {
			return err
		}
		if active >= maxActive {
			return tooManyActive(active)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ride_requests (
			id, customer_phone, customer_name,
			pickup_lat, pickup_lng, pickup_address, destination_lat, destination_lng, destination_address,
			passenger_count, estimated_distance_km, estimated_fare,
			status, status_version, requested_at, expires_at,
			group_booking_id, vehicle_sequence
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16,
			$17, $18
		)`,
		string(r.ID), r.CustomerPhone, r.CustomerName,
		r.Pickup.Lat, r.Pickup.Lng, r.PickupAddress, r.Destination.Lat, r.Destination.Lng, r.DestinationAddress,
		r.PassengerCount, r.EstimatedDistanceKm, r.EstimatedFare,
		string(r.Status), r.StatusVersion, r.RequestedAt, r.ExpiresAt,
		toStringPtr(r.GroupID), r.VehicleSequence,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Request, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	return r, err
}

func (s *PostgresStore) Accept(ctx context.Context, id, driverID, vehicleID types.ID, at time.Time) (*Request, bool, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, `
		UPDATE ride_requests
		SET status = $2, status_version = status_version + 1,
		    accepted_by_driver = $3, accepted_by_vehicle = $4, accepted_at = $5
		WHERE id = $1 AND status = $6 AND expires_at >= $5
		  AND NOT EXISTS (
		    SELECT 1 FROM ride_requests busy
		    WHERE busy.accepted_by_driver = $3 AND busy.status = ANY($7)
		  )
		RETURNING `+requestColumns,
		string(id), string(StatusAccepted), string(driverID), string(vehicleID), at, string(StatusPending), assignedStatuses,
	))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == driverActiveIndex {
		return nil, false, driverBusy(driverID)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		var busy bool
		if err := s.db.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM ride_requests WHERE accepted_by_driver = $1 AND status = ANY($2))`,
			string(driverID), assignedStatuses,
		).Scan(&busy); err != nil {
			return nil, false, err
		}
		if busy {
			return nil, false, driverBusy(driverID)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (s *PostgresStore) Expire(ctx context.Context, id types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests SET status = $2, status_version = status_version + 1
		WHERE id = $1 AND status = $3 AND expires_at < $4`,
		string(id), string(StatusExpired), string(StatusPending), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Transition(ctx context.Context, t Transition) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests
		SET status = $2,
		    status_version = status_version + 1,
		    en_route_at = CASE WHEN $2 = 'en_route' THEN $5 ELSE en_route_at END,
		    completed_at = CASE WHEN $2 = 'completed' THEN $5 ELSE completed_at END,
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN $5 ELSE cancelled_at END,
		    actual_fare = COALESCE($6, actual_fare),
		    cancelled_by = COALESCE(NULLIF($7, ''), cancelled_by),
		    cancellation_reason = COALESCE(NULLIF($8, ''), cancellation_reason),
		    cancellation_fee = CASE WHEN $2 = 'cancelled' THEN $9 ELSE cancellation_fee END
		WHERE id = $1 AND status = $3 AND status_version = $4`,
		string(t.ID), string(t.To), string(t.From), t.Version, t.At,
		t.ActualFare, string(t.CancelledBy), t.Reason, t.Fee,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ExpirePending(ctx context.Context, at time.Time) ([]ExpiredRef, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE ride_requests SET status = $1, status_version = status_version + 1
		WHERE status = $2 AND expires_at < $3
		RETURNING id, group_booking_id`,
		string(StatusExpired), string(StatusPending), at,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ExpiredRef, error) {
		var ref ExpiredRef
		var groupID *string
		if err := row.Scan(&ref.ID, &groupID); err != nil {
			return ExpiredRef{}, err
		}
		ref.GroupID = toIDPtr(groupID)
		return ref, nil
	})
}

func (s *PostgresStore) ListPending(ctx context.Context, at time.Time) ([]Request, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM ride_requests
		WHERE status = $1 AND expires_at >= $2
		ORDER BY requested_at`, string(StatusPending), at)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (s *PostgresStore) ActiveForDriver(ctx context.Context, driverID types.ID) (*Request, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM ride_requests
		WHERE accepted_by_driver = $1 AND status IN ($2, $3)
		ORDER BY accepted_at DESC
		LIMIT 1`, string(driverID), string(StatusAccepted), string(StatusEnRoute)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "driver %s has no active ride", driverID)
	}
	return r, err
}

func (s *PostgresStore) ListByGroup(ctx context.Context, groupID types.ID) ([]Request, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM ride_requests
		WHERE group_booking_id = $1
		ORDER BY vehicle_sequence`, string(groupID))
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func notFound(id types.ID) error {
	return apperr.New(apperr.KindNotFound, "ride request %s not found", id)
}

func driverBusy(driverID types.ID) error {
	return apperr.New(apperr.KindInvalidState, "driver %s already has an active ride", driverID)
}

func tooManyActive(n int) error {
	return apperr.New(apperr.KindTooManyActiveRequests,
		"you already have %d active ride request(s); wait for completion or cancel existing requests", n)
}

func toStringPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	v := string(*id)
	return &v
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
