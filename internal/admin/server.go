// Package admin implements the HTTP administration API: gateway status,
// effective configuration, endpoint registry management, mapping rule
// inspection and protocol trace control.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"icc.tech/sip-grpc-gateway/internal/endpoint"
	"icc.tech/sip-grpc-gateway/internal/mapping"
	"icc.tech/sip-grpc-gateway/internal/metrics"
	"icc.tech/sip-grpc-gateway/internal/trace"
)

// Server is the administration HTTP server.
type Server struct {
	addr       string
	engine     *mapping.Engine
	tracer     *trace.Manager
	configView func() any
	started    time.Time
	server     *http.Server
}

// NewServer creates an admin server. configView returns the sanitized
// effective configuration for GET /config.
func NewServer(addr string, engine *mapping.Engine, tracer *trace.Manager, configView func() any) *Server {
	return &Server{
		addr:       addr,
		engine:     engine,
		tracer:     tracer,
		configView: configView,
		started:    time.Now(),
	}
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("GET /endpoints", s.handleEndpointList)
	mux.HandleFunc("POST /endpoints", s.handleEndpointAdd)
	mux.HandleFunc("DELETE /endpoints/{name}", s.handleEndpointRemove)
	mux.HandleFunc("GET /mappings", s.handleMappings)
	mux.HandleFunc("POST /trace/start", s.handleTraceStart)
	mux.HandleFunc("POST /trace/stop", s.handleTraceStop)
	mux.HandleFunc("GET /trace/status", s.handleTraceStatus)
	mux.HandleFunc("GET /trace/list", s.handleTraceList)
	mux.HandleFunc("GET /trace/download/{id}", s.handleTraceDownload)
	return mux
}

// Start serves the API in the background.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting admin server", "addr", s.addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the admin server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	slog.Info("stopping admin server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}

	slog.Info("admin server stopped")
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":         "running",
		"uptime_seconds": time.Since(s.started).Seconds(),
		"endpoints":      len(s.engine.Registry().Snapshot()),
	}
	if info, ok := s.tracer.Active(); ok {
		status["active_trace"] = info.ID
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configView())
}

func (s *Server) handleEndpointList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": s.engine.Registry().List()})
}

func (s *Server) handleEndpointAdd(w http.ResponseWriter, r *http.Request) {
	var ep endpoint.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode endpoint: %w", err))
		return
	}
	if ep.Name == "" || ep.Host == "" || ep.Port == 0 || ep.Service == "" {
		writeError(w, http.StatusBadRequest, errors.New("endpoint requires name, host, port and service"))
		return
	}
	if err := s.engine.Registry().Add(ep); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, endpoint.ErrAlreadyExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	metrics.EndpointsConfigured.Set(float64(len(s.engine.Registry().Snapshot())))
	slog.Info("endpoint added", "name", ep.Name, "addr", ep.Addr())
	writeJSON(w, http.StatusCreated, ep)
}

func (s *Server) handleEndpointRemove(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.engine.Registry().Remove(name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, endpoint.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	metrics.EndpointsConfigured.Set(float64(len(s.engine.Registry().Snapshot())))
	slog.Info("endpoint removed", "name", name)
	writeJSON(w, http.StatusOK, map[string]string{"removed": name})
}

func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	table := s.engine.Table()

	requests := make([]map[string]any, 0)
	for _, rule := range table.RequestRules() {
		paths := make([]string, 0, len(rule.Fields))
		for _, fm := range rule.Fields {
			paths = append(paths, strings.Join(fm.Path, "."))
		}
		requests = append(requests, map[string]any{
			"match":    rule.MatchKey,
			"endpoint": rule.EndpointName,
			"method":   rule.TargetMethod,
			"fields":   paths,
		})
	}

	responses := make([]map[string]any, 0)
	for _, rule := range table.ResponseRules() {
		names := make([]string, 0, len(rule.Headers))
		for _, hm := range rule.Headers {
			names = append(names, hm.Name)
		}
		responses = append(responses, map[string]any{
			"match":   rule.MatchKey,
			"status":  rule.StatusCode,
			"reason":  rule.Reason,
			"headers": names,
			"body":    rule.Body != nil,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sip_to_grpc": requests,
		"grpc_to_sip": responses,
	})
}

func (s *Server) handleTraceStart(w http.ResponseWriter, r *http.Request) {
	info, err := s.tracer.Start()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTraceStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body stops the active session
	}
	sum, err := s.tracer.Stop(req.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleTraceStatus(w http.ResponseWriter, r *http.Request) {
	if info, ok := s.tracer.Active(); ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": true, "session": info})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": false})
}

func (s *Server) handleTraceList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.tracer.List()})
}

func (s *Server) handleTraceDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, info := range s.tracer.List() {
		if info.ID != id {
			continue
		}
		if info.Active {
			writeError(w, http.StatusConflict, errors.New("trace session is still recording"))
			return
		}
		if _, err := os.Stat(info.FilePath); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
		http.ServeFile(w, r, info.FilePath)
		return
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("no trace session %q", id))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
