// README: Trip ledger entries created from completed rides, with rating and payment state.
package trip

import (
	"time"

	"hailing/internal/types"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

const (
	MinRating = 1
	MaxRating = 5
)

type Trip struct {
	ID            types.ID      `json:"id"`
	RideRequestID types.ID      `json:"ride_request"`
	DriverID      types.ID      `json:"driver"`
	VehicleID     types.ID      `json:"tuktuk"`
	CustomerPhone string        `json:"customer_phone"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	DistanceKm    float64       `json:"distance_km"`
	Fare          float64       `json:"fare"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Rating        *int          `json:"customer_rating,omitempty"`
	RatingComment string        `json:"customer_comment,omitempty"`
	RatedAt       *time.Time    `json:"rated_at,omitempty"`
}

func (t *Trip) clone() *Trip {
	c := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.EndedAt != nil {
		v := *t.EndedAt
		c.EndedAt = &v
	}
	if t.Rating != nil {
		v := *t.Rating
		c.Rating = &v
	}
	if t.RatedAt != nil {
		v := *t.RatedAt
		c.RatedAt = &v
	}
	return &c
}
