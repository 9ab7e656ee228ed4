// README: Driver store contract with a PostgreSQL implementation.
package driver

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hailing/internal/apperr"
	"hailing/internal/types"
)

type Store interface {
	Save(ctx context.Context, d *Driver) error
	Get(ctx context.Context, id types.ID) (*Driver, error)
	SetStatus(ctx context.Context, id types.ID, status Status) error
	// AddRating folds one rating into the running average and returns it.
	AddRating(ctx context.Context, id types.ID, rating int) (float64, error)
	IncrementRides(ctx context.Context, id types.ID) error
	DeviceTokenByUser(ctx context.Context, user string) (string, error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, d *Driver) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (id, name, phone, user_account, device_token, vehicle_id, hailing_status)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			user_account = EXCLUDED.user_account,
			device_token = EXCLUDED.device_token,
			vehicle_id = EXCLUDED.vehicle_id,
			hailing_status = EXCLUDED.hailing_status`,
		string(d.ID), d.Name, d.Phone, d.UserAccount, d.DeviceToken, toStringPtr(d.VehicleID), string(d.Status),
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, phone, COALESCE(user_account, ''), COALESCE(device_token, ''), vehicle_id,
		       hailing_status, rating_count, total_rides,
		       CASE WHEN rating_count > 0 THEN rating_sum::float8 / rating_count ELSE 0 END
		FROM drivers
		WHERE id = $1`, string(id),
	)
	var d Driver
	var vehicleID *string
	err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.UserAccount, &d.DeviceToken, &vehicleID,
		&d.Status, &d.RatingCount, &d.TotalRides, &d.AverageRating)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "driver %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if vehicleID != nil {
		v := types.ID(*vehicleID)
		d.VehicleID = &v
	}
	return &d, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id types.ID, status Status) error {
	tag, err := s.db.Exec(ctx, `UPDATE drivers SET hailing_status = $2 WHERE id = $1`, string(id), string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "driver %s not found", id)
	}
	return nil
}

func (s *PostgresStore) AddRating(ctx context.Context, id types.ID, rating int) (float64, error) {
	var avg float64
	err := s.db.QueryRow(ctx, `
		UPDATE drivers
		SET rating_sum = rating_sum + $2, rating_count = rating_count + 1
		WHERE id = $1
		RETURNING rating_sum::float8 / rating_count`, string(id), rating,
	).Scan(&avg)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.New(apperr.KindNotFound, "driver %s not found", id)
	}
	return avg, err
}

func (s *PostgresStore) IncrementRides(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx, `UPDATE drivers SET total_rides = total_rides + 1 WHERE id = $1`, string(id))
	return err
}

func (s *PostgresStore) DeviceTokenByUser(ctx context.Context, user string) (string, error) {
	var token *string
	err := s.db.QueryRow(ctx, `
		SELECT device_token FROM drivers WHERE user_account = $1 OR id = $1
		UNION ALL
		SELECT device_token FROM customers WHERE phone = $1
		LIMIT 1`, user,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) || token == nil {
		return "", nil
	}
	return *token, err
}

func toStringPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	v := string(*id)
	return &v
}
