// README: Ride handlers for the request lifecycle, customer status, and cancellation.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hailing/internal/modules/ride"
	"hailing/internal/types"
)

type RideHandler struct {
	rides *ride.Service
}

func NewRideHandler(svc *ride.Service) *RideHandler {
	return &RideHandler{rides: svc}
}

type pointReq struct {
	Lat *float64 `json:"latitude"`
	Lng *float64 `json:"longitude"`
}

func (p pointReq) point() (types.Point, bool) {
	if p.Lat == nil || p.Lng == nil {
		return types.Point{}, false
	}
	return types.Point{Lat: *p.Lat, Lng: *p.Lng}, true
}

type createRideReq struct {
	CustomerPhone      string   `json:"customer_phone"`
	CustomerName       string   `json:"customer_name"`
	Pickup             pointReq `json:"pickup"`
	PickupAddress      string   `json:"pickup_address"`
	Destination        pointReq `json:"destination"`
	DestinationAddress string   `json:"destination_address"`
	PassengerCount     int      `json:"passenger_count"`
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if !bindJSON(c, &req) {
		return
	}
	pickup, ok := req.Pickup.point()
	if !ok {
		writeError(c, http.StatusBadRequest, "pickup coordinates are required")
		return
	}
	dest, ok := req.Destination.point()
	if !ok {
		writeError(c, http.StatusBadRequest, "destination coordinates are required")
		return
	}
	if req.PassengerCount == 0 {
		req.PassengerCount = 1
	}
	r, err := h.rides.Create(c.Request.Context(), ride.CreateCommand{
		CustomerPhone:      req.CustomerPhone,
		CustomerName:       req.CustomerName,
		Pickup:             pickup,
		PickupAddress:      req.PickupAddress,
		Destination:        dest,
		DestinationAddress: req.DestinationAddress,
		PassengerCount:     req.PassengerCount,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RideHandler) Status(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	phone := c.Query("phone")
	if phone == "" {
		writeError(c, http.StatusBadRequest, "missing phone")
		return
	}
	st, err := h.rides.StatusForCustomer(c.Request.Context(), id, phone)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

type driverActionReq struct {
	DriverID   string   `json:"driver_id"`
	ActualFare *float64 `json:"actual_fare"`
}

// driverAction binds the body and checks the caller is the named driver.
func driverAction(c *gin.Context) (types.ID, driverActionReq, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return "", driverActionReq{}, false
	}
	var req driverActionReq
	if !bindJSON(c, &req) {
		return "", req, false
	}
	if !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "missing driver_id")
		return "", req, false
	}
	if !authorizeDriver(c, types.ID(req.DriverID)) {
		return "", req, false
	}
	return id, req, true
}

func (h *RideHandler) Accept(c *gin.Context) {
	id, req, ok := driverAction(c)
	if !ok {
		return
	}
	r, err := h.rides.Accept(c.Request.Context(), id, types.ID(req.DriverID))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) EnRoute(c *gin.Context) {
	id, req, ok := driverAction(c)
	if !ok {
		return
	}
	r, err := h.rides.MarkEnRoute(c.Request.Context(), id, types.ID(req.DriverID))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Complete(c *gin.Context) {
	id, req, ok := driverAction(c)
	if !ok {
		return
	}
	r, err := h.rides.Complete(c.Request.Context(), ride.CompleteCommand{
		ID:         id,
		DriverID:   types.ID(req.DriverID),
		ActualFare: req.ActualFare,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type cancelReq struct {
	CancelledBy string `json:"cancelled_by"`
	DriverID    string `json:"driver_id"`
	Reason      string `json:"reason"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelReq
	if !bindJSON(c, &req) {
		return
	}
	by := ride.CancelledBy(req.CancelledBy)
	if by == ride.CancelledByDriver {
		if !isValidID(req.DriverID) {
			writeError(c, http.StatusBadRequest, "missing driver_id")
			return
		}
		if !authorizeDriver(c, types.ID(req.DriverID)) {
			return
		}
	}
	r, err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		ID:          id,
		CancelledBy: by,
		Reason:      req.Reason,
		DriverID:    types.ID(req.DriverID),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type customerCancelReq struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

func (h *RideHandler) CustomerCancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req customerCancelReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Phone == "" {
		writeError(c, http.StatusBadRequest, "missing phone")
		return
	}
	r, err := h.rides.CancelByCustomer(c.Request.Context(), id, req.Phone, req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}
