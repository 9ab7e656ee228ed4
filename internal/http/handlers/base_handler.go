// README: Base handler utilities (JSON helpers, error mapping, caller checks).
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hailing/internal/apperr"
	"hailing/internal/http/middleware"
	"hailing/internal/types"
)

type errorResponse struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind,omitempty"`
}

// isValidID accepts uuids and the short slugs used for driver and vehicle ids.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindBadRequest:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindOutsideServiceArea:
		return http.StatusUnprocessableEntity
	case apperr.KindExpired:
		return http.StatusGone
	case apperr.KindInvalidState, apperr.KindInvalidTransition, apperr.KindAlreadyTaken,
		apperr.KindConflict, apperr.KindTooManyActiveRequests:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		writeJSON(c, status, errorResponse{Error: "internal error", Kind: apperr.KindInternal})
		return
	}
	writeJSON(c, status, errorResponse{Error: err.Error(), Kind: kind})
}

// pathID reads and validates a path parameter, writing 400 when it is bad.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// queryFloat parses an optional float query parameter.
func queryFloat(c *gin.Context, name string) (*float64, bool) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return nil, false
	}
	return &v, true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

// queryPoint reads an optional lat/lng pair. Both or neither must be given.
func queryPoint(c *gin.Context, latName, lngName string) (*types.Point, bool) {
	lat, ok := queryFloat(c, latName)
	if !ok {
		return nil, false
	}
	lng, ok := queryFloat(c, lngName)
	if !ok {
		return nil, false
	}
	if (lat == nil) != (lng == nil) {
		writeError(c, http.StatusBadRequest, latName+" and "+lngName+" must be given together")
		return nil, false
	}
	if lat == nil {
		return nil, true
	}
	return &types.Point{Lat: *lat, Lng: *lng}, true
}

// authorizeDriver allows the request when auth is off, or when the caller is
// the driver named by id.
func authorizeDriver(c *gin.Context, id types.ID) bool {
	if !middleware.Authenticated(c) {
		return true
	}
	if middleware.CallerRole(c) != "driver" {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return false
	}
	if middleware.CallerUID(c) != string(id) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return false
	}
	return true
}
