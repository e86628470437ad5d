package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"aegis/core"
	"aegis/metrics"
	"aegis/storage"
)

type createIncidentRequest struct {
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Severity          core.Severity     `json:"severity"`
	Type              core.IncidentType `json:"type"`
	Source            string            `json:"source"`
	AffectedResources []string          `json:"affected_resources"`
	Labels            map[string]string `json:"labels"`
}

// handleCreateIncident accepts a new incident and kicks off matching
// auto-execute playbooks in the background. Playbook failures never fail
// incident creation.
func (a *API) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	if req.Type == "" {
		req.Type = core.IncidentTypeUnknown
	}
	if req.Source == "" {
		req.Source = "api"
	}

	inc := core.NewIncident(req.Title, req.Source, req.Severity, req.Type)
	inc.Description = req.Description
	inc.AffectedResources = req.AffectedResources
	for k, v := range req.Labels {
		inc.Labels[k] = v
	}

	if err := inc.Validate(); err != nil {
		a.writeError(w, http.StatusBadRequest, "Invalid incident", err)
		return
	}
	if err := a.incidents.CreateIncident(r.Context(), inc); err != nil {
		a.writeError(w, http.StatusInternalServerError, "Failed to store incident", err)
		return
	}

	metrics.IncidentsCreated.WithLabelValues(string(inc.Severity)).Inc()
	a.service.AutoExecute(inc)

	writeJSON(w, http.StatusCreated, inc)
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.incidents.ListIncidents(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Failed to list incidents", err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := a.incidents.GetIncident(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrIncidentNotFound) {
			a.writeError(w, http.StatusNotFound, "Incident not found", err)
			return
		}
		a.writeError(w, http.StatusInternalServerError, "Failed to load incident", err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleListIncidentExecutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.ListExecutionsForIncident(mux.Vars(r)["id"]))
}
