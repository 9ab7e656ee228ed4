// README: Group booking aggregate, seat plan, and the status fold over child rides.
package group

import (
	"time"

	"hailing/internal/modules/ride"
	"hailing/internal/types"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusPartiallyAccepted Status = "partially_accepted"
	StatusFullyAccepted     Status = "fully_accepted"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusExpired           Status = "expired"
)

// MaxPassengers bounds one booking to ten tuktuks.
const MaxPassengers = 10 * ride.MaxPassengersPerVehicle

type Booking struct {
	ID                 types.ID    `json:"id"`
	CustomerPhone      string      `json:"customer_phone"`
	CustomerName       string      `json:"customer_name,omitempty"`
	Pickup             types.Point `json:"pickup"`
	PickupAddress      string      `json:"pickup_address"`
	Destination        types.Point `json:"destination"`
	DestinationAddress string      `json:"destination_address"`
	TotalPassengers    int         `json:"total_passengers"`
	VehiclesRequired   int         `json:"tuktuks_required"`
	FarePerVehicle     float64     `json:"fare_per_tuktuk"`
	TotalFare          float64     `json:"total_fare"`
	Status             Status      `json:"status"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	FullyAcceptedAt    *time.Time  `json:"fully_accepted_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
}

func (b *Booking) clone() *Booking {
	c := *b
	if b.FullyAcceptedAt != nil {
		t := *b.FullyAcceptedAt
		c.FullyAcceptedAt = &t
	}
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// View is a booking with its child requests in vehicle order.
type View struct {
	Booking
	Rides []ride.Request `json:"rides"`
}

// VehiclesRequired is ceil(passengers / seats per tuktuk).
func VehiclesRequired(passengers int) int {
	if passengers <= 0 {
		return 0
	}
	seats := ride.MaxPassengersPerVehicle
	return (passengers + seats - 1) / seats
}

// SeatPlan fills each tuktuk in turn, e.g. 7 -> [3 3 1].
func SeatPlan(passengers int) []int {
	plan := make([]int, 0, VehiclesRequired(passengers))
	for remaining := passengers; remaining > 0; {
		n := min(ride.MaxPassengersPerVehicle, remaining)
		plan = append(plan, n)
		remaining -= n
	}
	return plan
}

func acceptedTier(s ride.Status) bool {
	return s == ride.StatusAccepted || s == ride.StatusEnRoute || s == ride.StatusCompleted
}

// Fold derives the group status from its children. The accepted-tier rules
// run first and the all-completed, all-cancelled and all-expired rules
// override them. Equal inputs always give the same status.
func Fold(children []ride.Status) Status {
	if len(children) == 0 {
		return StatusPending
	}
	var accepted, completed, cancelled, expired int
	for _, s := range children {
		if acceptedTier(s) {
			accepted++
		}
		switch s {
		case ride.StatusCompleted:
			completed++
		case ride.StatusCancelled:
			cancelled++
		case ride.StatusExpired:
			expired++
		}
	}
	n := len(children)

	out := StatusPending
	switch {
	case accepted == n:
		out = StatusFullyAccepted
	case accepted > 0:
		out = StatusPartiallyAccepted
	}
	if completed == n {
		out = StatusCompleted
	}
	if cancelled == n {
		out = StatusCancelled
	}
	// No leg can be accepted any more and at least one timed out.
	if accepted == 0 && expired > 0 && cancelled+expired == n {
		out = StatusExpired
	}
	return out
}
