package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"hailing/internal/types"
)

// OSRMRouter performs route lookups against an OSRM HTTP server.
type OSRMRouter struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMRouter(endpoint string) *OSRMRouter {
	return &OSRMRouter{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: 5 * time.Second}}
}

// Route queries /route/v1/driving/{lng1},{lat1};{lng2},{lat2} with full
// GeoJSON geometry.
func (o *OSRMRouter) Route(ctx context.Context, from, to types.Point) (Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.Endpoint, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64     `json:"distance"`
			Duration float64     `json:"duration"`
			Geometry *LineString `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, fmt.Errorf("osrm decode: %w", err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("osrm no route: %v", out.Code)
	}
	r := out.Routes[0]
	return newRoute(r.Distance, r.Duration, r.Geometry), nil
}
