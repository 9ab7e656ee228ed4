// README: Location store contract with a PostgreSQL implementation.
package location

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hailing/internal/apperr"
	"hailing/internal/modules/driver"
	"hailing/internal/types"
)

type Store interface {
	Get(ctx context.Context, driverID types.ID) (*Record, error)
	// Upsert writes r as the driver's current record. VehicleID is only
	// written when the record is created.
	Upsert(ctx context.Context, r *Record) (*Record, error)
	SetStatus(ctx context.Context, driverID types.ID, status driver.Status) (bool, error)
	// ListAvailable returns Available, unflagged records with
	// Timestamp >= since, newest first.
	ListAvailable(ctx context.Context, since time.Time, bounds *types.Bounds) ([]Record, error)
	MarkStale(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `driver_id, vehicle_id, latitude, longitude, accuracy_meters, heading, speed_kmh,
	hailing_status, recorded_at, is_stale`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.DriverID, &r.VehicleID, &r.Lat, &r.Lng, &r.Accuracy, &r.Heading, &r.Speed,
		&r.Status, &r.Timestamp, &r.Stale)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) Get(ctx context.Context, driverID types.ID) (*Record, error) {
	r, err := scanRecord(s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM driver_locations WHERE driver_id = $1`, string(driverID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no location for driver %s", driverID)
	}
	return r, err
}

func (s *PostgresStore) Upsert(ctx context.Context, r *Record) (*Record, error) {
	return scanRecord(s.db.QueryRow(ctx, `
		INSERT INTO driver_locations (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
		ON CONFLICT (driver_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			accuracy_meters = EXCLUDED.accuracy_meters,
			heading = EXCLUDED.heading,
			speed_kmh = EXCLUDED.speed_kmh,
			hailing_status = EXCLUDED.hailing_status,
			recorded_at = EXCLUDED.recorded_at,
			is_stale = false
		RETURNING `+recordColumns,
		string(r.DriverID), string(r.VehicleID), r.Lat, r.Lng, r.Accuracy, r.Heading, r.Speed,
		string(r.Status), r.Timestamp,
	))
}

func (s *PostgresStore) SetStatus(ctx context.Context, driverID types.ID, status driver.Status) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE driver_locations SET hailing_status = $2 WHERE driver_id = $1`, string(driverID), string(status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListAvailable(ctx context.Context, since time.Time, bounds *types.Bounds) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM driver_locations
		WHERE hailing_status = $1 AND recorded_at >= $2 AND NOT is_stale`
	args := []any{string(driver.StatusAvailable), since}
	if bounds != nil {
		query += ` AND latitude BETWEEN $3 AND $4 AND longitude BETWEEN $5 AND $6`
		args = append(args, bounds.MinLat, bounds.MaxLat, bounds.MinLng, bounds.MaxLng)
	}
	query += ` ORDER BY recorded_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		r, err := scanRecord(row)
		if err != nil {
			return Record{}, err
		}
		return *r, nil
	})
}

func (s *PostgresStore) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE driver_locations SET is_stale = true WHERE recorded_at < $1 AND NOT is_stale`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM driver_locations WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
