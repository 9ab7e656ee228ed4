// README: Driver profile and hailing availability status.
package driver

import "hailing/internal/types"

type Status string

const (
	StatusAvailable Status = "available"
	StatusEnRoute   Status = "en_route"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusEnRoute, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Driver is the canonical profile. VehicleID is the tuktuk currently
// assigned to the driver, nil when unassigned.
type Driver struct {
	ID            types.ID  `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	UserAccount   string    `json:"user_account,omitempty"`
	DeviceToken   string    `json:"-"`
	VehicleID     *types.ID `json:"vehicle_id,omitempty"`
	Status        Status    `json:"status"`
	AverageRating float64   `json:"average_rating"`
	RatingCount   int       `json:"rating_count"`
	TotalRides    int       `json:"total_rides"`
}

// Recipient is the push address for the driver, preferring the user account.
func (d *Driver) Recipient() string {
	if d.UserAccount != "" {
		return d.UserAccount
	}
	return string(d.ID)
}

func (d *Driver) clone() *Driver {
	c := *d
	if d.VehicleID != nil {
		v := *d.VehicleID
		c.VehicleID = &v
	}
	return &c
}
