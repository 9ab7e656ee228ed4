// README: Place search and autocomplete over the local catalog, with a cached suggest path and an optional Google fallback.
package places

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"hailing/internal/apperr"
	"hailing/internal/config"
	"hailing/internal/geo"
	"hailing/internal/logging"
	"hailing/internal/maps"
	"hailing/internal/observability"
	"hailing/internal/types"
)

// Fallback answers a search the local catalog could not.
type Fallback interface {
	TextSearch(ctx context.Context, query string, near *types.Point, limit int) ([]maps.Place, error)
}

type Deps struct {
	Catalog  Catalog
	Cache    SuggestionCache
	Fallback Fallback
	Logger   *slog.Logger
}

type Service struct {
	catalog  Catalog
	cache    SuggestionCache
	fallback Fallback
	log      *slog.Logger
	region   string
	cacheTTL time.Duration
}

func NewService(deps Deps, cfg config.Hailing) *Service {
	return &Service{
		catalog:  deps.Catalog,
		cache:    deps.Cache,
		fallback: deps.Fallback,
		log:      logging.OrDefault(deps.Logger),
		region:   cfg.PlaceRegionSuffix,
		cacheTTL: cfg.SuggestionCacheTTL,
	}
}

type SearchQuery struct {
	Query  string
	Limit  int
	User   *types.Point
	Bounds *types.Bounds
}

const noResultsMessage = "No local places found. Try a different search term."

// Search ranks catalog matches by tier, then by distance to the user when a
// position is given, else by name.
func (s *Service) Search(ctx context.Context, q SearchQuery) (*SearchResponse, error) {
	text := normalize(q.Query)
	if utf8.RuneCountInString(text) < minQueryLen {
		return &SearchResponse{Source: SourceNone, Results: []Result{}}, nil
	}
	limit := clampLimit(q.Limit, defaultSearchLimit)

	candidates, err := s.catalog.Candidates(ctx, text, true, q.Bounds)
	if err != nil {
		return nil, err
	}
	type ranked struct {
		place Place
		tier  int
		dist  float64
	}
	rows := make([]ranked, 0, len(candidates))
	for _, p := range candidates {
		r := ranked{place: p, tier: searchTier(&p, text)}
		if q.User != nil {
			r.dist = geo.DistanceKm(q.User.Lat, q.User.Lng, p.Lat, p.Lng)
		}
		rows = append(rows, r)
	}
	slices.SortStableFunc(rows, func(a, b ranked) int {
		if c := cmp.Compare(a.tier, b.tier); c != 0 {
			return c
		}
		if q.User != nil {
			if c := cmp.Compare(a.dist, b.dist); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.place.Name, b.place.Name)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	if len(rows) == 0 {
		return s.searchFallback(ctx, q.Query, q.User, limit), nil
	}
	results := make([]Result, len(rows))
	for i, r := range rows {
		results[i] = Result{
			PlaceName:   r.place.Name,
			DisplayName: s.displayName(&r.place),
			Lat:         r.place.Lat,
			Lng:         r.place.Lng,
			Category:    r.place.Category,
			Source:      SourceLocal,
		}
		if q.User != nil {
			d := types.Round(r.dist, 2)
			results[i].DistanceKm = &d
		}
	}
	return &SearchResponse{Source: SourceLocal, Results: results}, nil
}

func (s *Service) searchFallback(ctx context.Context, query string, user *types.Point, limit int) *SearchResponse {
	empty := &SearchResponse{Source: SourceNone, Results: []Result{}, Message: noResultsMessage}
	if s.fallback == nil {
		return empty
	}
	found, err := s.fallback.TextSearch(ctx, strings.TrimSpace(query), user, limit)
	if err != nil {
		s.log.Warn("places_fallback_failed", "query", query, "err", err)
		return empty
	}
	if len(found) == 0 {
		return empty
	}
	results := make([]Result, len(found))
	for i, p := range found {
		results[i] = Result{PlaceName: p.Name, DisplayName: p.Address, Lat: p.Lat, Lng: p.Lng, Source: SourceGoogle}
		if user != nil {
			d := types.Round(geo.DistanceKm(user.Lat, user.Lng, p.Lat, p.Lng), 2)
			results[i].DistanceKm = &d
		}
	}
	return &SearchResponse{Source: SourceGoogle, Results: results}
}

func (s *Service) displayName(p *Place) string {
	parts := []string{p.Name}
	if p.Category != "" {
		parts = append(parts, p.Category)
	}
	if s.region != "" {
		parts = append(parts, s.region)
	}
	return strings.Join(parts, ", ")
}

func searchTier(p *Place, q string) int {
	name := strings.ToLower(p.Name)
	switch {
	case name == q:
		return 1
	case strings.HasPrefix(name, q):
		return 2
	case strings.Contains(name, q):
		return 3
	case strings.Contains(p.aliasText(), q):
		return 4
	case strings.Contains(strings.ToLower(p.Category), q):
		return 5
	}
	return 6
}

func suggestTier(p *Place, q string) int {
	name := strings.ToLower(p.Name)
	switch {
	case strings.HasPrefix(name, q):
		return 1
	case strings.Contains(name, q):
		return 2
	case strings.Contains(p.aliasText(), q):
		return 3
	}
	return 4
}

// Suggest returns autocomplete entries matched on name and aliases. Results
// are cached per normalized query and limit. Cache failures fall through to
// the catalog.
func (s *Service) Suggest(ctx context.Context, query string, limit int) ([]Suggestion, error) {
	text := normalize(query)
	if utf8.RuneCountInString(text) < minQueryLen {
		return []Suggestion{}, nil
	}
	limit = clampLimit(limit, defaultSuggestLimit)
	key := suggestionKey(text, limit)

	if s.cache != nil {
		items, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			observability.SuggestionCacheLookup.WithLabelValues("error").Inc()
			s.log.Warn("suggestion_cache_read_failed", "key", key, "err", err)
		case ok:
			observability.SuggestionCacheLookup.WithLabelValues("hit").Inc()
			return items, nil
		default:
			observability.SuggestionCacheLookup.WithLabelValues("miss").Inc()
		}
	}

	candidates, err := s.catalog.Candidates(ctx, text, false, nil)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(candidates, func(a, b Place) int {
		if c := cmp.Compare(suggestTier(&a, text), suggestTier(&b, text)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	items := make([]Suggestion, len(candidates))
	for i, p := range candidates {
		items[i] = Suggestion{Label: s.displayName(&p), Value: p.Name, Lat: p.Lat, Lng: p.Lng, Category: p.Category}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, items, s.cacheTTL); err != nil {
			s.log.Warn("suggestion_cache_write_failed", "key", key, "err", err)
		}
	}
	return items, nil
}

type AddCommand struct {
	Name        string
	Category    string
	Aliases     []string
	Description string
	Lat         float64
	Lng         float64
}

// AddPlace stores an active catalog entry. Names are unique ignoring case.
func (s *Service) AddPlace(ctx context.Context, cmd AddCommand) (*Place, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, apperr.New(apperr.KindBadRequest, "place name is required")
	}
	if !finite(cmd.Lat) || !finite(cmd.Lng) || math.Abs(cmd.Lat) > 90 || math.Abs(cmd.Lng) > 180 {
		return nil, apperr.New(apperr.KindBadRequest, "place coordinates are invalid")
	}
	var aliases []string
	for _, a := range cmd.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			aliases = append(aliases, a)
		}
	}
	p := &Place{
		ID:          types.ID(uuid.NewString()),
		Name:        name,
		Category:    strings.TrimSpace(cmd.Category),
		Aliases:     aliases,
		Description: cmd.Description,
		Lat:         cmd.Lat,
		Lng:         cmd.Lng,
		Active:      true,
	}
	if err := s.catalog.Create(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("place_added", "place_id", p.ID, "name", p.Name)
	return p, nil
}

func normalize(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

