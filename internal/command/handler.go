// Package command implements the local control plane: a JSON-RPC channel
// over a Unix domain socket used by the CLI to manage the running daemon.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"icc.tech/sip-grpc-gateway/internal/endpoint"
	"icc.tech/sip-grpc-gateway/internal/mapping"
	"icc.tech/sip-grpc-gateway/internal/metrics"
)

// Version is stamped at build time via -ldflags.
var Version = "0.1.0"

// CommandHandler dispatches control plane commands.
type CommandHandler struct {
	engine         *mapping.Engine
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      int64  // Unix timestamp of daemon start for uptime calc
}

// ConfigReloader is the interface for reloading the mapping rule table.
type ConfigReloader interface {
	Reload() error
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(engine *mapping.Engine, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		engine:         engine,
		configReloader: reloader,
		startTime:      time.Now().Unix(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "endpoint_add", "config_reload"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "daemon_status":
		return h.handleDaemonStatus(ctx, cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(ctx, cmd)
	case "config_reload":
		return h.handleConfigReload(ctx, cmd)
	case "endpoint_list":
		return h.handleEndpointList(ctx, cmd)
	case "endpoint_add":
		return h.handleEndpointAdd(ctx, cmd)
	case "endpoint_remove":
		return h.handleEndpointRemove(ctx, cmd)
	case "mapping_list":
		return h.handleMappingList(ctx, cmd)
	default:
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method %q not found", cmd.Method),
			},
		}
	}
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	endpoints := h.engine.Registry().List()
	names := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		names = append(names, ep.Name)
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"version":        Version,
			"uptime_sec":     time.Now().Unix() - h.startTime,
			"endpoints":      names,
			"endpoint_count": len(names),
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: "shutdown handler not registered",
			},
		}
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}

// handleConfigReload reloads the mapping rule table from disk.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: "config reloader not available",
			},
		}
	}

	if err := h.configReloader.Reload(); err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: fmt.Sprintf("reload config failed: %v", err),
			},
		}
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "reloaded",
		},
	}
}

func (h *CommandHandler) handleEndpointList(_ context.Context, cmd Command) Response {
	endpoints := h.engine.Registry().List()
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"endpoints": endpoints,
			"count":     len(endpoints),
		},
	}
}

// EndpointAddParams represents parameters for the endpoint_add command.
type EndpointAddParams struct {
	Endpoint endpoint.Endpoint `json:"endpoint"`
}

func (h *CommandHandler) handleEndpointAdd(_ context.Context, cmd Command) Response {
	var params EndpointAddParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInvalidParams,
				Message: fmt.Sprintf("invalid params: %v", err),
			},
		}
	}

	ep := params.Endpoint
	if ep.Name == "" || ep.Host == "" || ep.Port == 0 || ep.Service == "" {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInvalidParams,
				Message: "endpoint requires name, host, port and service",
			},
		}
	}

	if err := h.engine.Registry().Add(ep); err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: fmt.Sprintf("add endpoint failed: %v", err),
			},
		}
	}

	metrics.EndpointsConfigured.Set(float64(len(h.engine.Registry().Snapshot())))
	slog.Info("endpoint added via control plane", "name", ep.Name, "addr", ep.Addr())
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"name":   ep.Name,
			"status": "added",
		},
	}
}

// EndpointRemoveParams represents parameters for the endpoint_remove command.
type EndpointRemoveParams struct {
	Name string `json:"name"`
}

func (h *CommandHandler) handleEndpointRemove(_ context.Context, cmd Command) Response {
	var params EndpointRemoveParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInvalidParams,
				Message: fmt.Sprintf("invalid params: %v", err),
			},
		}
	}

	if err := h.engine.Registry().Remove(params.Name); err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: fmt.Sprintf("remove endpoint failed: %v", err),
			},
		}
	}

	metrics.EndpointsConfigured.Set(float64(len(h.engine.Registry().Snapshot())))
	slog.Info("endpoint removed via control plane", "name", params.Name)
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"name":   params.Name,
			"status": "removed",
		},
	}
}

// handleMappingList returns the installed rule table's match keys.
func (h *CommandHandler) handleMappingList(_ context.Context, cmd Command) Response {
	table := h.engine.Table()

	requests := make([]map[string]interface{}, 0)
	for _, rule := range table.RequestRules() {
		requests = append(requests, map[string]interface{}{
			"match":    rule.MatchKey,
			"endpoint": rule.EndpointName,
			"method":   rule.TargetMethod,
		})
	}

	responses := make([]map[string]interface{}, 0)
	for _, rule := range table.ResponseRules() {
		responses = append(responses, map[string]interface{}{
			"match":  rule.MatchKey,
			"status": rule.StatusCode,
			"reason": rule.Reason,
		})
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"sip_to_grpc": requests,
			"grpc_to_sip": responses,
		},
	}
}
