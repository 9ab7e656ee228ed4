// README: Driver handlers for profiles and the driver's request queue.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hailing/internal/modules/driver"
	"hailing/internal/modules/matching"
	"hailing/internal/modules/ride"
	"hailing/internal/types"
)

type DriverHandler struct {
	drivers  *driver.Service
	matching *matching.Service
	rides    *ride.Service
}

func NewDriverHandler(driverSvc *driver.Service, matchingSvc *matching.Service, rideSvc *ride.Service) *DriverHandler {
	return &DriverHandler{drivers: driverSvc, matching: matchingSvc, rides: rideSvc}
}

type registerDriverReq struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	UserAccount string `json:"user_account"`
	DeviceToken string `json:"device_token"`
	VehicleID   string `json:"vehicle_id"`
}

func (h *DriverHandler) Register(c *gin.Context) {
	var req registerDriverReq
	if !bindJSON(c, &req) {
		return
	}
	if !isValidID(req.ID) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	d := &driver.Driver{
		ID:          types.ID(req.ID),
		Name:        req.Name,
		Phone:       req.Phone,
		UserAccount: req.UserAccount,
		DeviceToken: req.DeviceToken,
	}
	if req.VehicleID != "" {
		v := types.ID(req.VehicleID)
		d.VehicleID = &v
	}
	if err := h.drivers.Register(c.Request.Context(), d); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, d)
}

func (h *DriverHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.drivers.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

// PendingRequests lists open requests nearest the driver first.
func (h *DriverHandler) PendingRequests(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !authorizeDriver(c, id) {
		return
	}
	items, err := h.matching.PendingForDriver(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"requests": items, "count": len(items)})
}

func (h *DriverHandler) Active(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !authorizeDriver(c, id) {
		return
	}
	req, err := h.rides.ActiveForDriver(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, req)
}
