package location

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"hailing/internal/types"
)

const metersPerDegreeLat = 111320.0

// Privacy derives a fixed offset per driver from a keyed hash of the driver
// id. The offset keeps the same bearing and distance on every read; its
// distance lies in [radius/2, radius].
type Privacy struct {
	radiusM float64
	key     []byte
}

func NewPrivacy(radiusMeters float64, salt string) Privacy {
	return Privacy{radiusM: radiusMeters, key: []byte(salt)}
}

func (p Privacy) Offset(driverID types.ID, lat, lng float64) (float64, float64) {
	if p.radiusM <= 0 {
		return lat, lng
	}
	mac := hmac.New(sha256.New, p.key)
	mac.Write([]byte(driverID))
	sum := mac.Sum(nil)

	u1 := unitFloat(sum[0:8])
	u2 := unitFloat(sum[8:16])
	bearing := 2 * math.Pi * u1
	dist := p.radiusM * (0.5 + 0.5*u2)

	cosLat := math.Cos(lat * math.Pi / 180)
	if math.Abs(cosLat) < 1e-6 {
		cosLat = 1e-6
	}
	dLat := dist * math.Cos(bearing) / metersPerDegreeLat
	dLng := dist * math.Sin(bearing) / (metersPerDegreeLat * cosLat)
	return lat + dLat, lng + dLng
}

// unitFloat maps 8 bytes to [0, 1).
func unitFloat(b []byte) float64 {
	return float64(binary.BigEndian.Uint64(b)>>11) / (1 << 53)
}

func (p Privacy) View(r *Record) PublicView {
	lat, lng := p.Offset(r.DriverID, r.Lat, r.Lng)
	return PublicView{
		DriverID:  r.DriverID,
		VehicleID: r.VehicleID,
		Lat:       lat,
		Lng:       lng,
		Heading:   r.Heading,
		Status:    r.Status,
		Timestamp: r.Timestamp,
		IsStale:   r.IsStale,
	}
}
