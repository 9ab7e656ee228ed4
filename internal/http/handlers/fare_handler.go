// README: Fare estimate handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hailing/internal/modules/pricing"
)

type FareHandler struct {
	pricing *pricing.Service
}

func NewFareHandler(svc *pricing.Service) *FareHandler {
	return &FareHandler{pricing: svc}
}

func (h *FareHandler) Estimate(c *gin.Context) {
	pickup, ok := queryPoint(c, "pickup_lat", "pickup_lng")
	if !ok {
		return
	}
	dest, ok := queryPoint(c, "destination_lat", "destination_lng")
	if !ok {
		return
	}
	if pickup == nil || dest == nil {
		writeError(c, http.StatusBadRequest, "pickup and destination coordinates are required")
		return
	}
	writeJSON(c, http.StatusOK, h.pricing.Estimate(*pickup, *dest))
}
