// Package server exposes the scan orchestrator over a small REST surface:
// submissions, status, cancellation, report export, and a progress event
// stream. Authentication and role checks are handled upstream.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/audit"
	"github.com/dbsentinel/piiscan/pkg/scan"
	"github.com/dbsentinel/piiscan/pkg/scan/orchestrator"
	"github.com/dbsentinel/piiscan/pkg/scan/report"
)

// Server wires the HTTP surface over the orchestrator.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	renderers    *report.Registry
	auditor      audit.Auditor
	defaults     scan.ScanRequest
	log          *logrus.Logger
	router       chi.Router
}

// New creates the HTTP server. defaults seeds decoded submissions so omitted
// request fields adopt the service defaults.
func New(
	orch *orchestrator.Orchestrator,
	renderers *report.Registry,
	auditor audit.Auditor,
	defaults scan.ScanRequest,
	registry *prometheus.Registry,
	metricsPath string,
	log *logrus.Logger,
) *Server {
	s := &Server{
		orchestrator: orch,
		renderers:    renderers,
		auditor:      auditor,
		defaults:     defaults,
		log:          log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	if registry != nil {
		r.Handle(metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	r.Route("/api/v1/scans", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{jobID}", s.handleStatus)
		r.Delete("/{jobID}", s.handleCancel)
		r.Get("/{jobID}/report", s.handleReport)
		r.Get("/{jobID}/events", s.handleEvents)
	})
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	// Seed the request with the service defaults before decoding so absent
	// fields keep their defaulted values, including default-true flags.
	request := s.defaults
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeError(w, errs.Wrap(err, errs.ErrorTypeInvalidRequest, "malformed request body"))
		return
	}

	jobID, err := s.orchestrator.Submit(r.Context(), request)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orchestrator.List())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.orchestrator.Status(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.orchestrator.Cancel(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	rep, err := s.orchestrator.Report(jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	payload, err := s.renderers.Render(rep, format)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.auditor != nil {
		s.auditor.Handle(audit.ReportExportedEvent{JobID: jobID, Format: format})
	}

	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// handleEvents streams scan events for one job (or all jobs with id "*") as
// server-sent events until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID != "*" {
		if _, err := s.orchestrator.Status(jobID); err != nil {
			s.writeError(w, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, errs.New(errs.ErrorTypeInternal, "streaming unsupported by connection"))
		return
	}

	events, cancel := s.orchestrator.Bus().Subscribe(jobID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	encoder := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if err := encoder.Encode(event); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.WithField("error", err).Warn("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errs.GetStatusCode(err)
	if status >= http.StatusInternalServerError {
		s.log.WithField("error", err).Error("Request failed")
	}
	s.writeJSON(w, status, map[string]string{
		"error": errs.SafeErrorMessage(err),
		"kind":  string(errs.GetType(err)),
	})
}
