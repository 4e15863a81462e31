package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"VaultKeeper-Claude/internal/task"
	"VaultKeeper-Claude/pkg/logger"
)

var endpoints = map[string]string{
	"health":      "/health",
	"monique":     "/claude/monique/delegate",
	"coordinator": "/claude/coordinator/handoff",
	"patent":      "/claude/patent/collaborate",
	"cfo":         "/claude/cfo/consult",
	"batch":       "/claude/batch/process",
}

var availableEndpoints = []string{
	"/health",
	"/claude/monique/delegate",
	"/claude/coordinator/handoff",
	"/claude/patent/collaborate",
	"/claude/cfo/consult",
	"/claude/batch/process",
}

type rootBody struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
	Timestamp time.Time         `json:"timestamp"`
}

// HealthBody is the response of GET /health.
type HealthBody struct {
	Status           string    `json:"status"`
	Service          string    `json:"service"`
	ClaudeAPI        string    `json:"claude_api"`
	APIKeyConfigured bool      `json:"api_key_configured"`
	Timestamp        time.Time `json:"timestamp"`
	Uptime           string    `json:"uptime"`
}

type routeError struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Agent  string `json:"agent,omitempty"`
}

type errorBody struct {
	Error              string   `json:"error"`
	Message            string   `json:"message,omitempty"`
	AvailableEndpoints []string `json:"available_endpoints,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootBody{
		Service:   serviceName,
		Version:   serviceVersion,
		Status:    "operational",
		Endpoints: endpoints,
		Timestamp: s.now().UTC(),
	})
}

// handleHealth probes upstream and always answers 200; a failed probe only
// downgrades the reported status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Health(r.Context()))
}

// Health runs the upstream probe and assembles the health report.
func (s *Server) Health(ctx context.Context) HealthBody {
	healthy := false
	if s.prober != nil {
		probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		ok, err := s.prober.Probe(probeCtx)
		cancel()
		if err != nil {
			logger.FromContext(ctx, s.logger).Warn("upstream health probe failed", slog.Any("error", err))
		}
		healthy = ok && err == nil
	}
	s.metrics.SetUpstreamHealthy(healthy)

	body := HealthBody{
		Status:           "degraded",
		Service:          serviceName,
		ClaudeAPI:        "disconnected",
		APIKeyConfigured: s.apiKeyConfigured,
		Timestamp:        s.now().UTC(),
		Uptime:           s.now().Sub(s.started).Truncate(time.Second).String(),
	}
	if healthy {
		body.Status = "healthy"
		body.ClaudeAPI = "connected"
	}
	return body
}

// handleAgent serves one fixed-agent route.
func (s *Server) handleAgent(profile task.Profile) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req task.Request
		if err := decodeBody(w, r, &req); err != nil {
			s.routeFailure(w, r, profile.Agent, err)
			return
		}
		env := s.dispatcher.Process(r.Context(), profile.NewTask(req))
		writeJSON(w, http.StatusOK, env)
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req task.BatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.routeFailure(w, r, "", err)
		return
	}
	tasks := make([]task.Task, 0, len(req.Tasks))
	for _, item := range req.Tasks {
		tasks = append(tasks, task.BatchProfile.NewTask(item))
	}
	writeJSON(w, http.StatusOK, s.dispatcher.ProcessBatch(r.Context(), tasks))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{
		Error:              "Endpoint not found",
		AvailableEndpoints: availableEndpoints,
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{
		Error:   "Method not allowed",
		Message: fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path),
	})
}

func (s *Server) routeFailure(w http.ResponseWriter, r *http.Request, agent string, err error) {
	log := logger.FromContext(r.Context(), s.logger)
	if agent != "" {
		log = log.With(slog.String("agent", agent))
	}
	log.Error("request rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, routeError{
		Status: "error",
		Error:  err.Error(),
		Agent:  agent,
	})
}

// decodeBody reads exactly one JSON value. Numbers inside content keep their
// literal text so the prompt carries them unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("invalid request body: unexpected data after JSON value")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
