package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"hailing/internal/types"
)

// GoogleRouter resolves driving routes through the Google Directions API.
type GoogleRouter struct {
	client *maps.Client
	region string
}

// NewGoogleRouter creates a router with the given API key. region biases
// geocoding, e.g. "ke".
func NewGoogleRouter(apiKey, region string) (*GoogleRouter, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleRouter{client: client, region: region}, nil
}

func (r *GoogleRouter) Route(ctx context.Context, from, to types.Point) (Route, error) {
	req := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
		Region:      r.region,
	}

	routes, _, err := r.client.Directions(ctx, req)
	if err != nil {
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, fmt.Errorf("no route found")
	}

	var meters, seconds float64
	for _, leg := range routes[0].Legs {
		meters += float64(leg.Distance.Meters)
		seconds += leg.Duration.Seconds()
	}

	var geometry *LineString
	if pts, err := routes[0].OverviewPolyline.Decode(); err == nil && len(pts) > 0 {
		geometry = &LineString{Type: "LineString", Coordinates: make([][2]float64, 0, len(pts))}
		for _, p := range pts {
			geometry.Coordinates = append(geometry.Coordinates, [2]float64{p.Lng, p.Lat})
		}
	}
	return newRoute(meters, seconds, geometry), nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
