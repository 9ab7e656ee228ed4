package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"hailing/internal/types"
)

// Place is a simplified Google text search result.
type Place struct {
	Name    string
	Address string
	PlaceID string
	Lat     float64
	Lng     float64
}

// PlacesService queries the Google Places text search API. It backs place
// search when the local catalog has no match.
type PlacesService struct {
	client *maps.Client
	region string
	// RadiusMeters biases results around the caller's position.
	RadiusMeters uint
}

// NewPlacesService creates a new PlacesService with the given API key.
func NewPlacesService(apiKey, region string) (*PlacesService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &PlacesService{client: client, region: region, RadiusMeters: 15000}, nil
}

// TextSearch returns at most limit places matching query, biased towards
// near when it is set.
func (s *PlacesService) TextSearch(ctx context.Context, query string, near *types.Point, limit int) ([]Place, error) {
	r := &maps.TextSearchRequest{
		Query:  query,
		Region: s.region,
	}
	if near != nil {
		r.Location = &maps.LatLng{Lat: near.Lat, Lng: near.Lng}
		r.Radius = s.RadiusMeters
	}

	resp, err := s.client.TextSearch(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("places api error: %w", err)
	}

	var results []Place
	for _, result := range resp.Results {
		results = append(results, Place{
			Name:    result.Name,
			Address: result.FormattedAddress,
			PlaceID: result.PlaceID,
			Lat:     result.Geometry.Location.Lat,
			Lng:     result.Geometry.Location.Lng,
		})
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}
