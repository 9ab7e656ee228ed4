package handlers

import (
	"net/http"
	"testing"

	"hailing/internal/apperr"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindBadRequest, http.StatusBadRequest},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindUnauthorized, http.StatusForbidden},
		{apperr.KindOutsideServiceArea, http.StatusUnprocessableEntity},
		{apperr.KindExpired, http.StatusGone},
		{apperr.KindAlreadyTaken, http.StatusConflict},
		{apperr.KindInvalidTransition, http.StatusConflict},
		{apperr.KindInvalidState, http.StatusConflict},
		{apperr.KindTooManyActiveRequests, http.StatusConflict},
		{apperr.KindConflict, http.StatusConflict},
		{apperr.KindConfiguration, http.StatusInternalServerError},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.kind); got != tt.want {
			t.Errorf("statusFor(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestIsValidID(t *testing.T) {
	valid := []string{"d1", "tt-01", "2f1c6f0e-5d7a-4d55-9b43-0c8f7d2d9e11", "driver_abc"}
	invalid := []string{"", "bad id", "a/b", string(make([]byte, 65))}
	for _, v := range valid {
		if !isValidID(v) {
			t.Errorf("expected %q to be valid", v)
		}
	}
	for _, v := range invalid {
		if isValidID(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}
