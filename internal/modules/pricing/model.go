// README: Pricing configuration and fare quote definitions.
package pricing

import (
	"errors"
	"math"

	"hailing/internal/apperr"
)

// Pricing is the distance-based fare schedule, in the local currency.
type Pricing struct {
	BaseFare    float64 `json:"base_fare"`
	PerKmRate   float64 `json:"per_km_rate"`
	MinimumFare float64 `json:"minimum_fare"`
}

func (p Pricing) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"base_fare":    p.BaseFare,
		"per_km_rate":  p.PerKmRate,
		"minimum_fare": p.MinimumFare,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			errs = append(errs, errors.New(name+" must be a non-negative number"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return apperr.Wrap(apperr.KindConfiguration, err, "invalid pricing")
	}
	return nil
}

type Quote struct {
	Fare       float64 `json:"estimated_fare"`
	DistanceKm float64 `json:"estimated_distance_km"`
}
