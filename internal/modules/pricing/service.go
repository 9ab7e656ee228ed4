// README: Fare calculator; pure distance-based estimates.
package pricing

import (
	"math"

	"hailing/internal/geo"
	"hailing/internal/types"
)

// EstimateFare prices the straight-line distance between pickup and
// destination. Fare and distance are both rounded to 2 decimal places.
func EstimateFare(pickup, destination types.Point, p Pricing) Quote {
	distance := geo.DistanceKm(pickup.Lat, pickup.Lng, destination.Lat, destination.Lng)
	fare := math.Max(p.BaseFare+distance*p.PerKmRate, p.MinimumFare)
	return Quote{
		Fare:       types.Round(fare, 2),
		DistanceKm: types.Round(distance, 2),
	}
}

// Service binds a pricing schedule so callers need not carry it around.
type Service struct {
	pricing Pricing
}

func NewService(p Pricing) (*Service, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Service{pricing: p}, nil
}

func (s *Service) Estimate(pickup, destination types.Point) Quote {
	return EstimateFare(pickup, destination, s.pricing)
}

func (s *Service) Pricing() Pricing {
	return s.pricing
}
