package places

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hailing/internal/apperr"
	"hailing/internal/types"
)

// Catalog returns active places that contain the query in their name, an
// alias, or (when withCategory is set) the category. Matching is a plain
// case-insensitive substring test with no pattern characters.
type Catalog interface {
	Candidates(ctx context.Context, query string, withCategory bool, bounds *types.Bounds) ([]Place, error)
	Create(ctx context.Context, p *Place) error
}

type PostgresCatalog struct {
	db *pgxpool.Pool
}

func NewPostgresCatalog(db *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) Candidates(ctx context.Context, query string, withCategory bool, bounds *types.Bounds) ([]Place, error) {
	sql := `
		SELECT id, name, category, aliases, description, latitude, longitude, is_active
		FROM places
		WHERE is_active
		  AND (strpos(lower(name), $1) > 0
		       OR strpos(lower(array_to_string(aliases, ', ')), $1) > 0
		       OR ($2 AND strpos(lower(category), $1) > 0))`
	args := []any{strings.ToLower(query), withCategory}
	if bounds != nil {
		sql += ` AND latitude BETWEEN $3 AND $4 AND longitude BETWEEN $5 AND $6`
		args = append(args, bounds.MinLat, bounds.MaxLat, bounds.MinLng, bounds.MaxLng)
	}
	rows, err := c.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Place, error) {
		var p Place
		err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Aliases, &p.Description, &p.Lat, &p.Lng, &p.Active)
		return p, err
	})
}

func (c *PostgresCatalog) Create(ctx context.Context, p *Place) error {
	aliases := p.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	_, err := c.db.Exec(ctx, `
		INSERT INTO places (id, name, category, aliases, description, latitude, longitude, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(p.ID), p.Name, p.Category, aliases, p.Description, p.Lat, p.Lng, p.Active,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return duplicate(p.Name)
	}
	return err
}

func duplicate(name string) error {
	return apperr.New(apperr.KindConflict, "place %q already exists", name)
}
