// README: Location handlers for driver position updates, availability, and routing to a customer.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hailing/internal/modules/driver"
	"hailing/internal/modules/location"
	"hailing/internal/modules/matching"
)

type LocationHandler struct {
	location *location.Service
	matching *matching.Service
}

func NewLocationHandler(svc *location.Service, matchingSvc *matching.Service) *LocationHandler {
	return &LocationHandler{location: svc, matching: matchingSvc}
}

type updateLocationReq struct {
	Lat      *float64 `json:"latitude"`
	Lng      *float64 `json:"longitude"`
	Accuracy *float64 `json:"accuracy"`
	Heading  *float64 `json:"heading"`
	Speed    *float64 `json:"speed"`
	Status   string   `json:"hailing_status"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !authorizeDriver(c, id) {
		return
	}
	var req updateLocationReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	rec, err := h.location.UpsertLocation(c.Request.Context(), location.UpsertCommand{
		DriverID: id,
		Lat:      *req.Lat,
		Lng:      *req.Lng,
		Accuracy: req.Accuracy,
		Heading:  req.Heading,
		Speed:    req.Speed,
		Status:   driver.Status(req.Status),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

// Get returns the offset position, the only form shown to customers.
func (h *LocationHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.location.PublicLocation(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

type availabilityReq struct {
	Available *bool `json:"available"`
}

func (h *LocationHandler) SetAvailability(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !authorizeDriver(c, id) {
		return
	}
	var req availabilityReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Available == nil {
		writeError(c, http.StatusBadRequest, "available is required")
		return
	}
	status, err := h.location.SetAvailability(c.Request.Context(), id, *req.Available)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"driver_id": id, "hailing_status": status})
}

func (h *LocationHandler) Route(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	customer, ok := queryPoint(c, "lat", "lng")
	if !ok {
		return
	}
	if customer == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	writeJSON(c, http.StatusOK, h.location.RouteToCustomer(c.Request.Context(), id, *customer))
}

func (h *LocationHandler) Nearby(c *gin.Context) {
	customer, ok := queryPoint(c, "lat", "lng")
	if !ok {
		return
	}
	maxKm, ok := queryFloat(c, "max_distance_km")
	if !ok {
		return
	}
	var limit float64
	if maxKm != nil {
		limit = *maxKm
	}
	drivers, err := h.matching.NearbyDrivers(c.Request.Context(), customer, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": drivers, "count": len(drivers)})
}
