package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
	"github.com/vendhub-io/vendhub/internal/hub/core/service"
)

// tenantHeader carries the authenticated tenant identity, injected by the
// gateway in front of the hub. The hub trusts but scopes it.
const tenantHeader = "X-Tenant-ID"

type createCommandRequest struct {
	DeviceID        string          `json:"deviceId"`
	Kind            string          `json:"kind"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	DeadlineSeconds int             `json:"deadlineSeconds,omitempty"`
}

type registerDeviceRequest struct {
	DeviceID string `json:"deviceId"`
}

type resultRequest struct {
	CommandID  string          `json:"commandId"`
	Outcome    string          `json:"outcome"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	ReportedAt time.Time       `json:"reportedAt"`
}

type pendingResponse struct {
	Commands []*model.Command `json:"commands"`
}

func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(tenantHeader)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+tenantHeader+" header")
		return
	}

	var req createCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cmd, err := s.svc.CreateCommand(r.Context(), service.CreateCommandInput{
		TenantID: tenantID,
		DeviceID: req.DeviceID,
		Kind:     model.CommandKind(req.Kind),
		Payload:  req.Payload,
		Deadline: time.Duration(req.DeadlineSeconds) * time.Second,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cmd)
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(tenantHeader)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+tenantHeader+" header")
		return
	}

	cmd, err := s.svc.GetCommand(r.Context(), tenantID, mux.Vars(r)["commandID"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(tenantHeader)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+tenantHeader+" header")
		return
	}

	cmd, err := s.svc.CancelCommand(r.Context(), tenantID, mux.Vars(r)["commandID"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(tenantHeader)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+tenantHeader+" header")
		return
	}

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	device, err := s.svc.RegisterDevice(r.Context(), tenantID, req.DeviceID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

func (s *Server) handlePollCommands(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceID"]

	cmds, err := s.svc.PollCommands(r.Context(), deviceID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{Commands: cmds})
}

func (s *Server) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceID"]

	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ReportedAt.IsZero() {
		req.ReportedAt = time.Now()
	}

	err := s.svc.ReportResult(r.Context(), model.ResultReport{
		CommandID:  req.CommandID,
		DeviceID:   deviceID,
		Outcome:    model.Outcome(req.Outcome),
		Detail:     req.Detail,
		ReportedAt: req.ReportedAt,
		Transport:  model.ChannelHTTP,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// writeServiceError maps the engine's error taxonomy onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidTarget), errors.Is(err, core.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrUnknownCommand):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrStaleTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(err, "request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
