// Package gateway wires the translation engine, the backend RPC client and
// the observability hooks into the SIP request pipeline served by the
// transports.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"icc.tech/sip-grpc-gateway/internal/apm"
	"icc.tech/sip-grpc-gateway/internal/endpoint"
	"icc.tech/sip-grpc-gateway/internal/mapping"
	"icc.tech/sip-grpc-gateway/internal/metrics"
	"icc.tech/sip-grpc-gateway/internal/rpc"
	"icc.tech/sip-grpc-gateway/internal/sipmsg"
	"icc.tech/sip-grpc-gateway/internal/trace"
)

const sipPort = 5060

// Gateway implements transport.Handler: one inbound SIP request becomes one
// backend RPC call becomes one SIP response. Any failure along the way
// produces a SIP error response, never a dropped request.
type Gateway struct {
	engine   *mapping.Engine
	invoker  rpc.Invoker
	tracer   *trace.Manager
	reporter apm.Reporter
	nodeIP   string
}

// New assembles a gateway pipeline.
func New(engine *mapping.Engine, invoker rpc.Invoker, tracer *trace.Manager, reporter apm.Reporter, nodeIP string) *Gateway {
	return &Gateway{
		engine:   engine,
		invoker:  invoker,
		tracer:   tracer,
		reporter: reporter,
		nodeIP:   nodeIP,
	}
}

// ServeSIP translates, invokes and answers. It always returns a response.
func (g *Gateway) ServeSIP(ctx context.Context, req *sipmsg.Request) *sipmsg.Response {
	start := time.Now()
	metrics.RequestsTotal.WithLabelValues(req.Method).Inc()

	g.tracer.Record(trace.ClientToSIP, "udp", sipmsg.RenderRequest(req), "0.0.0.0", g.nodeIP, sipPort, sipPort)

	report := apm.CallReport{
		Method: req.Method,
		URI:    req.URI,
		Start:  start,
	}
	if callID, ok := req.Headers.Get("Call-ID"); ok {
		report.CallID = callID
	}

	resp := g.serve(ctx, req, &report)

	report.End = time.Now()
	report.StatusCode = resp.StatusCode
	g.reporter.ReportCall(report)

	metrics.ResponsesTotal.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()
	g.tracer.Record(trace.SIPToClient, "udp", sipmsg.RenderResponse(resp), g.nodeIP, "0.0.0.0", sipPort, sipPort)

	return resp
}

func (g *Gateway) serve(ctx context.Context, req *sipmsg.Request, report *apm.CallReport) *sipmsg.Response {
	desc, err := g.engine.TranslateRequest(req)
	if err != nil {
		metrics.TranslationsTotal.WithLabelValues(mapping.SIPToRPC.String(), translationOutcome(err)).Inc()
		slog.Warn("request translation failed", "method", req.Method, "error", err)
		report.Failed = true
		return errorResponse(err)
	}
	metrics.TranslationsTotal.WithLabelValues(mapping.SIPToRPC.String(), "ok").Inc()

	report.Endpoint = desc.EndpointName
	report.FullMethod = desc.FullMethod()
	report.Peer = desc.Endpoint.Addr()

	g.recordRPC(trace.SIPToGRPC, desc.Endpoint, desc.Fields.Map())

	report.BackendStart = time.Now()
	data, err := g.invoker.Invoke(ctx, desc)
	report.BackendEnd = time.Now()
	metrics.BackendLatencySeconds.WithLabelValues(desc.EndpointName).Observe(report.BackendEnd.Sub(report.BackendStart).Seconds())

	if err != nil {
		metrics.BackendCallsTotal.WithLabelValues(desc.EndpointName, "error").Inc()
		slog.Error("backend call failed", "endpoint", desc.EndpointName, "method", desc.FullMethod(), "error", err)
		report.Failed = true
		return errorResponse(err)
	}
	metrics.BackendCallsTotal.WithLabelValues(desc.EndpointName, "ok").Inc()

	g.recordRPC(trace.GRPCToSIP, desc.Endpoint, data.Map())

	resp, err := g.engine.TranslateResponse(desc.EndpointName, desc.Method, data)
	if err != nil {
		metrics.TranslationsTotal.WithLabelValues(mapping.RPCToSIP.String(), translationOutcome(err)).Inc()
		slog.Warn("response translation failed", "endpoint", desc.EndpointName, "method", desc.Method, "error", err)
		report.Failed = true
		return errorResponse(err)
	}
	metrics.TranslationsTotal.WithLabelValues(mapping.RPCToSIP.String(), "ok").Inc()

	return resp
}

// recordRPC traces one backend leg as a JSON payload so captures show the
// structured message rather than raw HTTP/2 frames.
func (g *Gateway) recordRPC(dir trace.Direction, ep endpoint.Endpoint, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if dir == trace.SIPToGRPC {
		g.tracer.Record(dir, "tcp", body, g.nodeIP, ep.Host, sipPort, ep.Port)
	} else {
		g.tracer.Record(dir, "tcp", body, ep.Host, g.nodeIP, ep.Port, sipPort)
	}
}

// translationOutcome maps translation errors to stable metric labels.
func translationOutcome(err error) string {
	switch {
	case errors.Is(err, mapping.ErrUnmappedMethod):
		return "unmapped_method"
	case errors.Is(err, mapping.ErrUnknownEndpoint):
		return "unknown_endpoint"
	case errors.Is(err, mapping.ErrUnmappedResponse):
		return "unmapped_response"
	case errors.Is(err, mapping.ErrMissingValue):
		return "missing_value"
	default:
		return "error"
	}
}

// errorResponse maps a pipeline failure to the SIP status the client sees.
// Unmapped methods answer 501, everything else 500.
func errorResponse(err error) *sipmsg.Response {
	if errors.Is(err, mapping.ErrUnmappedMethod) {
		return sipmsg.NewResponse(501, "Not Implemented")
	}
	return sipmsg.NewResponse(500, "Server Internal Error")
}
