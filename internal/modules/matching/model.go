// README: Matching candidates and the driver-facing pending request view.
package matching

import (
	"time"

	"hailing/internal/modules/ride"
	"hailing/internal/types"
)

// Candidate is an available, fresh driver ranked by distance to a pickup.
type Candidate struct {
	DriverID   types.ID    `json:"driver_id"`
	VehicleID  types.ID    `json:"vehicle_id"`
	Position   types.Point `json:"-"`
	DistanceKm float64     `json:"distance_km"`
	SeenAt     time.Time   `json:"timestamp"`
}

// PendingItem is a Pending request as listed to one driver.
type PendingItem struct {
	ride.Request
	DistanceToPickupKm float64 `json:"distance_to_pickup_km"`
}

// NearbyDriver is a public view of an available driver near a customer.
type NearbyDriver struct {
	DriverID   types.ID  `json:"driver_id"`
	VehicleID  types.ID  `json:"vehicle_id"`
	Name       string    `json:"driver_name,omitempty"`
	Lat        float64   `json:"display_latitude"`
	Lng        float64   `json:"display_longitude"`
	DistanceKm *float64  `json:"distance_km,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RequestPayload is the body of a new_ride_request push.
type RequestPayload struct {
	RequestID           types.ID  `json:"request_id"`
	CustomerName        string    `json:"customer_name,omitempty"`
	PickupAddress       string    `json:"pickup_address"`
	PickupLat           float64   `json:"pickup_latitude"`
	PickupLng           float64   `json:"pickup_longitude"`
	DestinationAddress  string    `json:"destination_address"`
	DestinationLat      float64   `json:"destination_latitude"`
	DestinationLng      float64   `json:"destination_longitude"`
	EstimatedFare       float64   `json:"estimated_fare"`
	EstimatedDistanceKm float64   `json:"estimated_distance_km"`
	PassengerCount      int       `json:"passenger_count"`
	DistanceToPickupKm  float64   `json:"distance_to_pickup_km"`
	RequestedAt         time.Time `json:"requested_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	GroupID             *types.ID `json:"group_booking,omitempty"`
}

const (
	// dispatchTTL keeps dispatch records well past any request deadline.
	dispatchTTL = 24 * time.Hour
)
