// README: Ride request aggregate, closed status enum, and transition table.
package ride

import (
	"time"

	"hailing/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusEnRoute   Status = "en_route"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

var allStatuses = []Status{StatusPending, StatusAccepted, StatusEnRoute, StatusCompleted, StatusCancelled, StatusExpired}

// AllowedTransitions is the complete lifecycle. Statuses without an entry
// are terminal. A driver may complete straight from Accepted when the
// en-route step was never reported.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled, StatusExpired},
	StatusAccepted: {StatusEnRoute, StatusCompleted, StatusCancelled},
	StatusEnRoute:  {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s.Valid() && len(AllowedTransitions[s]) == 0
}

// Active statuses count against the per-customer request limit.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusEnRoute
}

// Assigned statuses have a driver bound and not yet released.
func (s Status) Assigned() bool {
	return s == StatusAccepted || s == StatusEnRoute
}

type CancelledBy string

const (
	CancelledByCustomer CancelledBy = "customer"
	CancelledByDriver   CancelledBy = "driver"
	CancelledBySystem   CancelledBy = "system"
)

func (c CancelledBy) Valid() bool {
	return c == CancelledByCustomer || c == CancelledByDriver || c == CancelledBySystem
}

type Request struct {
	ID                  types.ID    `json:"id"`
	CustomerPhone       string      `json:"customer_phone"`
	CustomerName        string      `json:"customer_name,omitempty"`
	Pickup              types.Point `json:"pickup"`
	PickupAddress       string      `json:"pickup_address"`
	Destination         types.Point `json:"destination"`
	DestinationAddress  string      `json:"destination_address"`
	PassengerCount      int         `json:"passenger_count"`
	EstimatedDistanceKm float64     `json:"estimated_distance_km"`
	EstimatedFare       float64     `json:"estimated_fare"`
	ActualFare          *float64    `json:"actual_fare,omitempty"`
	Status              Status      `json:"status"`
	StatusVersion       int         `json:"-"`
	RequestedAt         time.Time   `json:"requested_at"`
	ExpiresAt           time.Time   `json:"expires_at"`
	AcceptedAt          *time.Time  `json:"accepted_at,omitempty"`
	EnRouteAt           *time.Time  `json:"en_route_at,omitempty"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty"`
	CancelledAt         *time.Time  `json:"cancelled_at,omitempty"`
	DriverID            *types.ID   `json:"accepted_by_driver,omitempty"`
	VehicleID           *types.ID   `json:"accepted_by_vehicle,omitempty"`
	CancelledBy         CancelledBy `json:"cancelled_by,omitempty"`
	CancellationReason  string      `json:"cancellation_reason,omitempty"`
	CancellationFee     float64     `json:"cancellation_fee_charged"`
	GroupID             *types.ID   `json:"group_booking,omitempty"`
	VehicleSequence     int         `json:"vehicle_sequence,omitempty"`
}

// ExpiredAt reports whether the acceptance deadline has passed at t.
func (r *Request) ExpiredAt(t time.Time) bool {
	return t.After(r.ExpiresAt)
}

func (r *Request) clone() *Request {
	c := *r
	c.ActualFare = cloneFloat(r.ActualFare)
	c.AcceptedAt = cloneTime(r.AcceptedAt)
	c.EnRouteAt = cloneTime(r.EnRouteAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	c.DriverID = cloneID(r.DriverID)
	c.VehicleID = cloneID(r.VehicleID)
	c.GroupID = cloneID(r.GroupID)
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneID(v *types.ID) *types.ID {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Transition is a compare-and-swap from (From, Version) to To. The optional
// fields are written alongside the status.
type Transition struct {
	ID          types.ID
	From        Status
	Version     int
	To          Status
	At          time.Time
	ActualFare  *float64
	CancelledBy CancelledBy
	Reason      string
	Fee         float64
}

// CompletionEvent is emitted once a ride reaches Completed.
type CompletionEvent struct {
	RequestID   types.ID  `json:"request_id"`
	DriverID    types.ID  `json:"driver_id"`
	VehicleID   types.ID  `json:"vehicle_id"`
	Fare        float64   `json:"fare"`
	DistanceKm  float64   `json:"distance_km"`
	Customer    string    `json:"customer_phone"`
	GroupID     *types.ID `json:"group_booking,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// ExpiredRef identifies a request flipped to Expired by a sweep.
type ExpiredRef struct {
	ID      types.ID
	GroupID *types.ID
}
