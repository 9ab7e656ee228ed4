// Package geo contains pure geographic computation helpers.
package geo

import (
	"cmp"
	"math"
	"slices"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Ring is an ordered list of [lng, lat] vertices. A closed ring repeats its
// first vertex at the end.
type Ring [][2]float64

// Closed reports whether the first and last vertex are equal.
func (r Ring) Closed() bool {
	return len(r) > 0 && r[0] == r[len(r)-1]
}

func (r Ring) distinctVertices() int {
	seen := make(map[[2]float64]struct{}, len(r))
	for _, v := range r {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// PointInPolygon runs a ray cast from (lat, lng) across the ring edges.
// Rings with fewer than 3 distinct vertices contain nothing.
func PointInPolygon(lat, lng float64, ring Ring) bool {
	if ring.distinctVertices() < 3 {
		return false
	}
	inside := false
	j := len(ring) - 1
	for i := range ring {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > lat) != (yj > lat) && lng < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// SortByDistance orders items by ascending distance; equal distances keep
// their input order.
func SortByDistance[T any](items []T, dist func(T) float64) {
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(dist(a), dist(b))
	})
}
