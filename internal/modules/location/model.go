// README: Driver location record; one current record per driver.
package location

import (
	"time"

	"hailing/internal/modules/driver"
	"hailing/internal/types"
)

// Record is the latest known position of a driver. Stale is the flag the
// sweep persists; IsStale is derived from Timestamp at read time.
type Record struct {
	DriverID  types.ID      `json:"driver_id"`
	VehicleID types.ID      `json:"vehicle_id"`
	Lat       float64       `json:"latitude"`
	Lng       float64       `json:"longitude"`
	Accuracy  *float64      `json:"accuracy_meters,omitempty"`
	Heading   *float64      `json:"heading,omitempty"`
	Speed     *float64      `json:"speed_kmh,omitempty"`
	Status    driver.Status `json:"hailing_status"`
	Timestamp time.Time     `json:"timestamp"`
	Stale     bool          `json:"-"`
	IsStale   bool          `json:"is_stale"`
}

func (r *Record) Point() types.Point {
	return types.Point{Lat: r.Lat, Lng: r.Lng}
}

func (r *Record) clone() *Record {
	c := *r
	c.Accuracy = cloneFloat(r.Accuracy)
	c.Heading = cloneFloat(r.Heading)
	c.Speed = cloneFloat(r.Speed)
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// PublicView is what parties other than the driver see: the position is
// shifted by the driver's privacy offset.
type PublicView struct {
	DriverID  types.ID      `json:"driver_id"`
	VehicleID types.ID      `json:"vehicle_id"`
	Lat       float64       `json:"display_latitude"`
	Lng       float64       `json:"display_longitude"`
	Heading   *float64      `json:"heading,omitempty"`
	Status    driver.Status `json:"hailing_status"`
	Timestamp time.Time     `json:"timestamp"`
	IsStale   bool          `json:"is_stale"`
}

// UpdateEvent is published on every location write.
type UpdateEvent struct {
	DriverID  types.ID      `json:"driver"`
	Lat       float64       `json:"latitude"`
	Lng       float64       `json:"longitude"`
	Status    driver.Status `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}
