package geo

import (
	"encoding/json"
	"strings"

	"hailing/internal/apperr"
	"hailing/internal/types"
)

// ServiceArea is the polygon pickups must originate in. The zero value
// admits every point.
type ServiceArea struct {
	ring Ring
}

func NewServiceArea(ring Ring) (ServiceArea, error) {
	if len(ring) < 4 {
		return ServiceArea{}, apperr.New(apperr.KindConfiguration, "service area polygon must have at least 4 points")
	}
	if !ring.Closed() {
		return ServiceArea{}, apperr.New(apperr.KindConfiguration, "service area polygon must be closed (first point = last point)")
	}
	return ServiceArea{ring: ring}, nil
}

// ParseServiceArea accepts either the GeoJSON polygon coordinates array
// ([[[lng,lat],...]]) or a full {"type":"Polygon","coordinates":...} object.
// Only the outer ring is used. An empty input yields an unrestricted area.
func ParseServiceArea(raw string) (ServiceArea, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || raw == "[]" {
		return ServiceArea{}, nil
	}

	var rings []Ring
	if strings.HasPrefix(raw, "{") {
		var obj struct {
			Type        string `json:"type"`
			Coordinates []Ring `json:"coordinates"`
		}
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return ServiceArea{}, apperr.Wrap(apperr.KindConfiguration, err, "invalid service area JSON")
		}
		if obj.Type != "" && obj.Type != "Polygon" {
			return ServiceArea{}, apperr.New(apperr.KindConfiguration, "service area must be a Polygon, got %s", obj.Type)
		}
		rings = obj.Coordinates
	} else if err := json.Unmarshal([]byte(raw), &rings); err != nil {
		return ServiceArea{}, apperr.Wrap(apperr.KindConfiguration, err, "invalid service area JSON")
	}

	if len(rings) == 0 {
		return ServiceArea{}, apperr.New(apperr.KindConfiguration, "service area must contain at least one ring")
	}
	return NewServiceArea(rings[0])
}

// Restricted reports whether a polygon is configured.
func (a ServiceArea) Restricted() bool {
	return len(a.ring) > 0
}

func (a ServiceArea) Contains(p types.Point) bool {
	if !a.Restricted() {
		return true
	}
	return PointInPolygon(p.Lat, p.Lng, a.ring)
}
