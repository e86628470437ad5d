package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"aegis/playbook"
)

func (a *API) handleCreatePlaybook(w http.ResponseWriter, r *http.Request) {
	var pb playbook.Playbook
	if err := a.decodeJSONBody(w, r, &pb); err != nil {
		return
	}

	created, err := a.service.CreatePlaybook(&pb)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.ListPlaybooks())
}

func (a *API) handleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	pb, err := a.service.GetPlaybook(mux.Vars(r)["id"])
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pb)
}

func (a *API) handleUpdatePlaybook(w http.ResponseWriter, r *http.Request) {
	var pb playbook.Playbook
	if err := a.decodeJSONBody(w, r, &pb); err != nil {
		return
	}

	updated, err := a.service.UpdatePlaybook(mux.Vars(r)["id"], &pb)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeletePlaybook(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeletePlaybook(mux.Vars(r)["id"]); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	IncidentID string `json:"incident_id"`
}

func (a *API) handleExecutePlaybook(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	if req.IncidentID == "" {
		a.writeError(w, http.StatusBadRequest, "incident_id is required", nil)
		return
	}

	exec, err := a.service.Execute(r.Context(), mux.Vars(r)["id"], req.IncidentID, "manual")
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (a *API) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := a.service.GetExecution(mux.Vars(r)["id"])
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (a *API) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.service.CancelExecution(id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"execution_id": id,
		"status":       "cancellation_requested",
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.Stats())
}
