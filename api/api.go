// Package api exposes the REST boundary of the service: playbook CRUD,
// execution control, incidents, and operational endpoints.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"aegis/metrics"
	"aegis/playbook"
	"aegis/storage"
)

// API wires HTTP routes to the playbook service and incident store
type API struct {
	router    *mux.Router
	service   *playbook.Service
	incidents *storage.MemoryIncidentStore
	logger    *zap.SugaredLogger
}

// New creates the API and registers all routes
func New(service *playbook.Service, incidents *storage.MemoryIncidentStore, logger *zap.SugaredLogger) *API {
	a := &API{
		router:    mux.NewRouter(),
		service:   service,
		incidents: incidents,
		logger:    logger,
	}
	a.routes()
	return a
}

// Router returns the configured HTTP handler
func (a *API) Router() http.Handler {
	return a.router
}

func (a *API) routes() {
	a.router.Use(a.metricsMiddleware)

	a.router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/playbooks", a.handleCreatePlaybook).Methods(http.MethodPost)
	v1.HandleFunc("/playbooks", a.handleListPlaybooks).Methods(http.MethodGet)
	v1.HandleFunc("/playbooks/stats", a.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/playbooks/{id}", a.handleGetPlaybook).Methods(http.MethodGet)
	v1.HandleFunc("/playbooks/{id}", a.handleUpdatePlaybook).Methods(http.MethodPut)
	v1.HandleFunc("/playbooks/{id}", a.handleDeletePlaybook).Methods(http.MethodDelete)
	v1.HandleFunc("/playbooks/{id}/execute", a.handleExecutePlaybook).Methods(http.MethodPost)

	v1.HandleFunc("/executions/{id}", a.handleGetExecution).Methods(http.MethodGet)
	v1.HandleFunc("/executions/{id}/cancel", a.handleCancelExecution).Methods(http.MethodPost)

	v1.HandleFunc("/incidents", a.handleCreateIncident).Methods(http.MethodPost)
	v1.HandleFunc("/incidents", a.handleListIncidents).Methods(http.MethodGet)
	v1.HandleFunc("/incidents/{id}", a.handleGetIncident).Methods(http.MethodGet)
	v1.HandleFunc("/incidents/{id}/executions", a.handleListIncidentExecutions).Methods(http.MethodGet)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// metricsMiddleware records request duration per route and status
func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
