package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"aegis/playbook"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		a.logger.Errorw(message, "error", err, "status_code", status)
	}
	resp := errorResponse{Error: message}
	var vErr *playbook.ValidationError
	if errors.As(err, &vErr) {
		resp.Details = vErr.Issues
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps playbook service errors onto HTTP status codes
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var vErr *playbook.ValidationError
	switch {
	case errors.As(err, &vErr):
		a.writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, playbook.ErrPlaybookNotFound):
		a.writeError(w, http.StatusNotFound, "Playbook not found", err)
	case errors.Is(err, playbook.ErrExecutionNotFound):
		a.writeError(w, http.StatusNotFound, "Execution not found", err)
	case errors.Is(err, playbook.ErrIncidentNotFound):
		a.writeError(w, http.StatusNotFound, "Incident not found", err)
	case errors.Is(err, playbook.ErrExecutionNotRunning):
		a.writeError(w, http.StatusConflict, "Execution is not running", err)
	default:
		a.writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		a.writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return err
	}
	return nil
}
