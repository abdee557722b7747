package mapping

import (
	"fmt"
	"sync/atomic"

	"icc.tech/sip-grpc-gateway/internal/endpoint"
	"icc.tech/sip-grpc-gateway/internal/fieldtree"
	"icc.tech/sip-grpc-gateway/internal/sipmsg"
)

// CallDescriptor is the engine's structured representation of one outbound
// RPC call. The resolved Endpoint is embedded by value, so a descriptor
// stays valid even if the endpoint is removed from the registry afterwards.
type CallDescriptor struct {
	EndpointName string
	Endpoint     endpoint.Endpoint
	Method       string
	Fields       *fieldtree.Node
}

// FullMethod returns the gRPC wire method name for the descriptor.
func (d *CallDescriptor) FullMethod() string {
	return fmt.Sprintf("/%s/%s", d.Endpoint.Service, d.Method)
}

// Engine performs the two translation directions against the current rule
// table and endpoint registry. Both operations are stateless and safe for
// arbitrary concurrency: each call pins the table pointer and a registry
// snapshot once at entry and never touches shared state afterwards.
type Engine struct {
	table    atomic.Pointer[Table]
	registry *endpoint.Registry
}

// NewEngine creates an engine over a compiled table and a registry.
func NewEngine(table *Table, registry *endpoint.Registry) *Engine {
	e := &Engine{registry: registry}
	e.table.Store(table)
	return e
}

// Table returns the currently installed rule table.
func (e *Engine) Table() *Table {
	return e.table.Load()
}

// ReplaceTable atomically installs a new rule table. In-flight translations
// keep using the table they pinned at entry.
func (e *Engine) ReplaceTable(table *Table) {
	e.table.Store(table)
}

// Registry exposes the endpoint registry for the administrative surface.
func (e *Engine) Registry() *endpoint.Registry {
	return e.registry
}

// TranslateRequest converts an inbound SIP request into a call descriptor.
// Failures are scoped to this call and never mutate shared state.
func (e *Engine) TranslateRequest(req *sipmsg.Request) (*CallDescriptor, error) {
	table := e.table.Load()

	rule, err := table.RequestRule(req.Method)
	if err != nil {
		return nil, err
	}

	ep, err := e.registry.Get(rule.EndpointName)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, rule.EndpointName)
	}

	ctx := NewRequestContext(req)
	fields := fieldtree.NewBranch()
	for _, fm := range rule.Fields {
		node, err := fm.Extractor.Resolve(ctx, table.policy)
		if err != nil {
			return nil, err
		}
		fields.Set(fm.Path, node)
	}

	return &CallDescriptor{
		EndpointName: rule.EndpointName,
		Endpoint:     ep,
		Method:       rule.TargetMethod,
		Fields:       fields,
	}, nil
}

// TranslateResponse converts an RPC response payload into a SIP response
// envelope. Headers are appended in rule declaration order.
func (e *Engine) TranslateResponse(endpointName, method string, data *fieldtree.Node) (*sipmsg.Response, error) {
	table := e.table.Load()

	rule, err := table.ResponseRule(endpointName, method)
	if err != nil {
		return nil, err
	}

	ctx := NewResponseContext(data)
	resp := sipmsg.NewResponse(rule.StatusCode, rule.Reason)
	for _, hm := range rule.Headers {
		node, err := hm.Extractor.Resolve(ctx, table.policy)
		if err != nil {
			return nil, err
		}
		resp.Headers.Set(hm.Name, node.Value())
	}
	if rule.Body != nil {
		node, err := rule.Body.Resolve(ctx, table.policy)
		if err != nil {
			return nil, err
		}
		resp.Body = node.Value()
	}

	return resp, nil
}
