package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harshalekkalaarjun/multi-can-sim/internal/auth"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/command"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/transmit"
)

// RegisterRoutes registers all v1 endpoints on the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"

	// Health endpoint (no auth required)
	mux.HandleFunc(apiV1+"/health", s.handleHealth)

	read := func(h http.HandlerFunc) http.HandlerFunc {
		return s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeRead)(h))
	}
	control := func(h http.HandlerFunc) http.HandlerFunc {
		return s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(h))
	}

	mux.HandleFunc(apiV1+"/status", read(s.handleStatus))
	mux.HandleFunc(apiV1+"/messages", s.authMiddleware.RequireAuth(s.handleMessages))
	mux.HandleFunc(apiV1+"/messages/", control(s.handleMessageByID))
	mux.HandleFunc(apiV1+"/transmission/start", control(s.handleStartTransmission))
	mux.HandleFunc(apiV1+"/transmission/stop", control(s.handleStopTransmission))
	mux.HandleFunc(apiV1+"/bus/open", control(s.handleOpenBus))
	mux.HandleFunc(apiV1+"/reset", control(s.handleReset))
	mux.HandleFunc(apiV1+"/events", read(s.handleEvents))
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// statusResponse extends the orchestrator snapshot with the API's own
// auth state.
type statusResponse struct {
	command.Status
	AuthRequired bool `json:"authRequired"`
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	WriteSuccess(w, statusResponse{
		Status:       s.orchestrator.Status(),
		AuthRequired: s.authMiddleware.Enabled(),
	})
}

// messageRequest is the boundary shape of one message: hex identifier,
// hex byte string, cycle time in milliseconds.
type messageRequest struct {
	ID      string  `json:"id"`
	Data    string  `json:"data"`
	CycleMs float64 `json:"cycleMs"`
	IDType  string  `json:"idType"`
}

func parseMessageRequest(req messageRequest) (transmit.MessageSpec, error) {
	return transmit.ParseSpec(req.ID, req.Data, req.CycleMs, req.IDType)
}

// handleMessages handles GET and POST /messages
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.authMiddleware.RequireScope(auth.ScopeRead)(func(w http.ResponseWriter, r *http.Request) {
			WriteSuccess(w, s.orchestrator.Messages())
		})(w, r)
	case http.MethodPost:
		s.authMiddleware.RequireScope(auth.ScopeControl)(s.handleAddMessage)(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET and POST methods are allowed", nil)
	}
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeStrict(w, r, &req) {
		return
	}

	spec, err := parseMessageRequest(req)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	effect, err := s.orchestrator.AddOrUpdateMessage(spec)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"id":     spec.IDString(),
		"effect": effect.String(),
	})
}

// handleMessageByID handles DELETE /messages/{id}
func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only DELETE method is allowed", nil)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/messages/")
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	id, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"Malformed message identifier", nil)
		return
	}

	if !s.orchestrator.RemoveMessage(uint32(id)) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND",
			"No such message", nil)
		return
	}

	WriteSuccess(w, map[string]interface{}{"removed": true})
}

// handleStartTransmission handles POST /transmission/start. The body
// may carry a full table snapshot (a JSON array of messages) which is
// validated as a whole and upserted before starting; an empty body
// starts the table as configured.
func (s *Server) handleStartTransmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	snapshot, ok := decodeSnapshot(w, r)
	if !ok {
		return
	}

	// All specs parse before any reaches the table, so a bad row
	// cannot cause a partial start.
	specs := make([]transmit.MessageSpec, 0, len(snapshot))
	for _, req := range snapshot {
		spec, err := parseMessageRequest(req)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		specs = append(specs, spec)
	}
	for _, spec := range specs {
		if _, err := s.orchestrator.AddOrUpdateMessage(spec); err != nil {
			WriteDomainError(w, err)
			return
		}
	}

	if err := s.orchestrator.StartAllCyclic(); err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteSuccess(w, s.orchestrator.Status())
}

// decodeSnapshot reads an optional JSON array of messages from the
// body. An empty body yields an empty snapshot.
func decodeSnapshot(w http.ResponseWriter, r *http.Request) ([]messageRequest, bool) {
	var snapshot []messageRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snapshot); err != nil {
		if err == io.EOF {
			return nil, true
		}
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"Malformed JSON or unknown fields", nil)
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"Trailing data after JSON array", nil)
		return nil, false
	}
	return snapshot, true
}

// handleStopTransmission handles POST /transmission/stop
func (s *Server) handleStopTransmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	s.orchestrator.StopAllCyclic()
	WriteSuccess(w, s.orchestrator.Status())
}

type busRequest struct {
	Channel   string `json:"channel"`
	Interface string `json:"interface"`
	Bitrate   int    `json:"bitrate"`
}

// handleOpenBus handles POST /bus/open
func (s *Server) handleOpenBus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	var req busRequest
	if !decodeStrict(w, r, &req) {
		return
	}

	if err := s.orchestrator.OpenBus(req.Channel, req.Interface, req.Bitrate); err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteSuccess(w, s.orchestrator.Status())
}

// handleReset handles POST /reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	if err := s.orchestrator.ResetAndCloseBus(); err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteSuccess(w, s.orchestrator.Status())
}

// handleEvents handles GET /events (SSE stream)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}

// decodeStrict parses a JSON body rejecting unknown fields and
// trailing data. Writes the error response itself on failure.
func decodeStrict(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"Malformed JSON or unknown fields", nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"Trailing data after JSON object", nil)
		return false
	}
	return true
}
