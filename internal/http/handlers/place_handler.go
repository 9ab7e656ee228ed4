// README: Place search, autocomplete, and catalog handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hailing/internal/modules/places"
	"hailing/internal/types"
)

type PlaceHandler struct {
	places *places.Service
}

func NewPlaceHandler(svc *places.Service) *PlaceHandler {
	return &PlaceHandler{places: svc}
}

func (h *PlaceHandler) Search(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	user, ok := queryPoint(c, "lat", "lng")
	if !ok {
		return
	}
	bounds, ok := queryBounds(c)
	if !ok {
		return
	}
	resp, err := h.places.Search(c.Request.Context(), places.SearchQuery{
		Query:  c.Query("q"),
		Limit:  limit,
		User:   user,
		Bounds: bounds,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

// queryBounds reads min_lat, max_lat, min_lng and max_lng. All four or none.
func queryBounds(c *gin.Context) (*types.Bounds, bool) {
	names := []string{"min_lat", "max_lat", "min_lng", "max_lng"}
	vals := make([]float64, len(names))
	present := 0
	for i, n := range names {
		v, ok := queryFloat(c, n)
		if !ok {
			return nil, false
		}
		if v != nil {
			vals[i] = *v
			present++
		}
	}
	switch present {
	case 0:
		return nil, true
	case len(names):
		return &types.Bounds{MinLat: vals[0], MaxLat: vals[1], MinLng: vals[2], MaxLng: vals[3]}, true
	}
	writeError(c, http.StatusBadRequest, "bounds need min_lat, max_lat, min_lng and max_lng")
	return nil, false
}

func (h *PlaceHandler) Suggest(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	items, err := h.places.Suggest(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"suggestions": items})
}

type addPlaceReq struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Aliases     []string `json:"aliases"`
	Description string   `json:"description"`
	Lat         *float64 `json:"latitude"`
	Lng         *float64 `json:"longitude"`
}

func (h *PlaceHandler) Add(c *gin.Context) {
	var req addPlaceReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	p, err := h.places.AddPlace(c.Request.Context(), places.AddCommand{
		Name:        req.Name,
		Category:    req.Category,
		Aliases:     req.Aliases,
		Description: req.Description,
		Lat:         *req.Lat,
		Lng:         *req.Lng,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, p)
}
