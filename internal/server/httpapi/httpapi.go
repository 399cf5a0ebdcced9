// Package httpapi exposes internal/server/syncsvc's request-reply
// operations (ReportChanges, FetchChanges, ResolveConflict,
// GetFileHistory, RestoreFileVersion) as a gorilla/mux JSON API, grounded
// on ipiton-alert-history-service's HTTP-handler-over-service layering.
// The two streaming operations (UploadFile, DownloadFile) and the
// per-device heartbeat stream instead ride internal/rpcconn's websocket
// frames — see ws.go — since a request-reply JSON envelope doesn't fit
// streamed chunk transfer. The heartbeat stream pushes no change
// notifications; there is no SubscribeChanges operation.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/claudesync/claudesync/internal/server/fanout"
	"github.com/claudesync/claudesync/internal/server/syncsvc"
)

// Server wires a syncsvc.Service and a fanout.Store (for revocation checks
// and websocket presence) behind an HTTP router.
type Server struct {
	svc     *syncsvc.Service
	fanout  *fanout.Store
	logger  *slog.Logger
	metrics *metrics
}

// New constructs a Server. logger defaults to slog.Default() if nil.
func New(svc *syncsvc.Service, fan *fanout.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{svc: svc, fanout: fan, logger: logger, metrics: newMetrics()}
}

// Router builds the mux.Router exposing every HTTP route: the health
// check, the Prometheus scrape endpoint, the JSON request-reply RPCs, and
// the websocket upgrade routes from ws.go.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.Use(s.metricsMiddleware)

	api.HandleFunc("/changes", s.handleReportChanges).Methods(http.MethodPost)
	api.HandleFunc("/changes", s.handleFetchChanges).Methods(http.MethodGet)
	api.HandleFunc("/conflicts/{id}/resolve", s.handleResolveConflict).Methods(http.MethodPost)
	api.HandleFunc("/files/history", s.handleFileHistory).Methods(http.MethodGet)
	api.HandleFunc("/files/restore", s.handleRestoreVersion).Methods(http.MethodPost)
	api.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)

	api.HandleFunc("/ws/transfer", s.handleTransferWS)
	api.HandleFunc("/ws/stream", s.handleStreamWS)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type reportChangesRequest struct {
	Files []syncsvc.ReportedFile `json:"files"`
}

func (s *Server) handleReportChanges(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req reportChangesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results, err := s.svc.ReportChanges(r.Context(), ident.userID, ident.deviceID, req.Files)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleFetchChanges(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	glob := r.URL.Query().Get("glob")

	changes, err := s.svc.FetchChanges(r.Context(), ident.userID, since, glob)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, changes)
}

type resolveConflictRequest struct {
	Strategy syncsvc.ResolveStrategy `json:"strategy"`
	Merged   []byte                  `json:"merged,omitempty"`
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	conflictID := mux.Vars(r)["id"]

	var req resolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	v, err := s.svc.ResolveConflict(r.Context(), ident.userID, ident.deviceID, conflictID, req.Strategy, req.Merged)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleFileHistory(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	path := r.URL.Query().Get("path")

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	history, err := s.svc.GetFileHistory(r.Context(), ident.userID, path, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, history)
}

// handleListDevices reports the caller's currently-online device IDs,
// backing the CLI's list-devices subcommand.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	if s.fanout == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}

	devices, err := s.fanout.OnlineDevices(r.Context(), ident.userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, devices)
}

type restoreVersionRequest struct {
	Path          string `json:"path"`
	VersionNumber int64  `json:"version_number"`
}

func (s *Server) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req restoreVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	v, err := s.svc.RestoreFileVersion(r.Context(), ident.userID, ident.deviceID, req.Path, req.VersionNumber)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}
