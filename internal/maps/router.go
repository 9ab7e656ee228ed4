// README: Routing provider contract shared by the Google and OSRM clients.
package maps

import (
	"context"

	"hailing/internal/types"
)

// MsgRoutingUnavailable is reported whenever the provider cannot answer.
const MsgRoutingUnavailable = "Routing service unavailable"

// LineString is a GeoJSON line geometry with [lng, lat] coordinates.
type LineString struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// Route is display-only routing information. Available is false whenever
// the provider failed; Message then says why.
type Route struct {
	Available       bool        `json:"success"`
	DistanceKm      float64     `json:"distance_km,omitempty"`
	DurationMinutes float64     `json:"duration_minutes,omitempty"`
	Geometry        *LineString `json:"geometry,omitempty"`
	Message         string      `json:"error,omitempty"`
}

type Router interface {
	Route(ctx context.Context, from, to types.Point) (Route, error)
}

func Unavailable(msg string) Route {
	return Route{Available: false, Message: msg}
}

func newRoute(meters, seconds float64, geometry *LineString) Route {
	return Route{
		Available:       true,
		DistanceKm:      types.Round(meters/1000, 2),
		DurationMinutes: types.Round(seconds/60, 1),
		Geometry:        geometry,
	}
}
