// README: Trip ledger handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hailing/internal/modules/trip"
)

type TripHandler struct {
	trips *trip.Service
}

func NewTripHandler(svc *trip.Service) *TripHandler {
	return &TripHandler{trips: svc}
}

func (h *TripHandler) FromRequest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	t, err := h.trips.CreateFromRequest(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *TripHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	t, err := h.trips.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

type rateReq struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *TripHandler) Rate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rateReq
	if !bindJSON(c, &req) {
		return
	}
	t, err := h.trips.Rate(c.Request.Context(), trip.RateCommand{TripID: id, Rating: req.Rating, Comment: req.Comment})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

type paymentReq struct {
	Status string `json:"payment_status"`
}

func (h *TripHandler) Payment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req paymentReq
	if !bindJSON(c, &req) {
		return
	}
	t, err := h.trips.UpdatePaymentStatus(c.Request.Context(), id, trip.PaymentStatus(req.Status))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}
