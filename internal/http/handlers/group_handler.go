// README: Group booking handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hailing/internal/modules/group"
)

type GroupHandler struct {
	groups *group.Service
}

func NewGroupHandler(svc *group.Service) *GroupHandler {
	return &GroupHandler{groups: svc}
}

type createGroupReq struct {
	CustomerPhone      string   `json:"customer_phone"`
	CustomerName       string   `json:"customer_name"`
	Pickup             pointReq `json:"pickup"`
	PickupAddress      string   `json:"pickup_address"`
	Destination        pointReq `json:"destination"`
	DestinationAddress string   `json:"destination_address"`
	TotalPassengers    int      `json:"total_passengers"`
}

func (h *GroupHandler) Create(c *gin.Context) {
	var req createGroupReq
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
	view, err := h.groups.CreateGroup(c.Request.Context(), group.CreateCommand{
		CustomerPhone:      req.CustomerPhone,
		CustomerName:       req.CustomerName,
		Pickup:             pickup,
		PickupAddress:      req.PickupAddress,
		Destination:        dest,
		DestinationAddress: req.DestinationAddress,
		TotalPassengers:    req.TotalPassengers,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, view)
}

func (h *GroupHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.groups.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}
