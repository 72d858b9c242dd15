package server

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "probity/native/common"
	"probity/native/shutdown"
)

// statusFor maps coordinator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, shutdown.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, shutdown.ErrAlreadyInitiated),
		errors.Is(err, shutdown.ErrNotYetInitiated),
		errors.Is(err, shutdown.ErrAlreadySet),
		errors.Is(err, shutdown.ErrNotSet),
		errors.Is(err, shutdown.ErrFinalPriceNotSet),
		errors.Is(err, shutdown.ErrWaitPeriodNotElapsed),
		errors.Is(err, shutdown.ErrReservesNotReconciled),
		errors.Is(err, shutdown.ErrDebtNotProcessed),
		errors.Is(err, shutdown.ErrNoObligation),
		errors.Is(err, nativecommon.ErrModuleShutdown):
		return http.StatusConflict
	case errors.Is(err, shutdown.ErrInvalidTarget),
		errors.Is(err, shutdown.ErrZeroPrice),
		errors.Is(err, shutdown.ErrNothingToFree),
		errors.Is(err, shutdown.ErrNothingToRedeem):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
