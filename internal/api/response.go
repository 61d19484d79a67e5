package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harshalekkalaarjun/multi-can-sim/internal/bus"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/canbus"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/transmit"
)

// Response is the unified envelope for every endpoint.
type Response struct {
	Result        string      `json:"result"`
	Data          interface{} `json:"data,omitempty"`
	Code          string      `json:"code,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

// WriteSuccess writes a success envelope.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	writeResponse(w, http.StatusOK, &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: generateCorrelationID(),
	})
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details interface{}) {
	writeResponse(w, statusCode, &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: generateCorrelationID(),
	})
}

// WriteDomainError maps a domain error onto a status code and envelope:
// validation failures are the caller's fault, a closed bus is a state
// conflict, a driver failure means the transport is unavailable.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, canbus.ErrInvalidID),
		errors.Is(err, canbus.ErrInvalidLen),
		errors.Is(err, transmit.ErrInvalidCycleTime):
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, bus.ErrInvalidChannel),
		errors.Is(err, bus.ErrInvalidConfig):
		WriteError(w, http.StatusBadRequest, "INVALID_CONFIGURATION", err.Error(), nil)
	case errors.Is(err, transmit.ErrBusNotOpen),
		errors.Is(err, bus.ErrBusClosed):
		WriteError(w, http.StatusConflict, "BUS_NOT_OPEN", err.Error(), nil)
	case errors.Is(err, bus.ErrDriverFailure),
		errors.Is(err, bus.ErrTransmitFailure):
		WriteError(w, http.StatusServiceUnavailable, "DRIVER_FAILURE", err.Error(), nil)
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}

func writeResponse(w http.ResponseWriter, statusCode int, response *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		fmt.Fprintf(w, "Internal server error: %v", err)
	}
}

func generateCorrelationID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
