package mapping

import (
	"fmt"

	"icc.tech/sip-grpc-gateway/internal/fieldtree"
)

// DefaultMatchKey is the fallback rule key, consulted when no exact match
// exists for a SIP method or an endpoint.method pair.
const DefaultMatchKey = "DEFAULT"

// FieldMappingConfig is one (path, value spec) pair of a request rule. The
// value spec keys live inline next to "path", so the extractor shape is
// collected through the remainder map.
type FieldMappingConfig struct {
	Path string         `mapstructure:"path" yaml:"path"`
	Spec map[string]any `mapstructure:",remain" yaml:",inline"`
}

// HeaderMappingConfig is one (header, value spec) pair of a response rule.
type HeaderMappingConfig struct {
	Name string         `mapstructure:"name" yaml:"name"`
	Spec map[string]any `mapstructure:",remain" yaml:",inline"`
}

// RequestRuleConfig declares one SIP→RPC rule.
type RequestRuleConfig struct {
	Match    string               `mapstructure:"match" yaml:"match"`
	Endpoint string               `mapstructure:"endpoint" yaml:"endpoint"`
	Method   string               `mapstructure:"method" yaml:"method"`
	Fields   []FieldMappingConfig `mapstructure:"fields" yaml:"fields"`
}

// ResponseRuleConfig declares one RPC→SIP rule. Match is either
// "<endpoint>.<method>" or DEFAULT.
type ResponseRuleConfig struct {
	Match   string                `mapstructure:"match" yaml:"match"`
	Status  int                   `mapstructure:"status" yaml:"status"`
	Reason  string                `mapstructure:"reason" yaml:"reason"`
	Headers []HeaderMappingConfig `mapstructure:"headers" yaml:"headers"`
	Body    map[string]any        `mapstructure:"body" yaml:"body"`
}

// TableConfig is the full declarative rule set, the shape the configuration
// layer hands over after parsing.
type TableConfig struct {
	OnMissing string               `mapstructure:"on_missing" yaml:"on_missing"`
	SIPToGRPC []RequestRuleConfig  `mapstructure:"sip_to_grpc" yaml:"sip_to_grpc"`
	GRPCToSIP []ResponseRuleConfig `mapstructure:"grpc_to_sip" yaml:"grpc_to_sip"`
}

// FieldMapping is a compiled (path, extractor) pair.
type FieldMapping struct {
	Path      []string
	Extractor *Extractor
}

// HeaderMapping is a compiled (header name, extractor) pair.
type HeaderMapping struct {
	Name      string
	Extractor *Extractor
}

// RequestRule is a compiled SIP→RPC rule.
type RequestRule struct {
	MatchKey     string
	EndpointName string
	TargetMethod string
	Fields       []FieldMapping
}

// ResponseRule is a compiled RPC→SIP rule.
type ResponseRule struct {
	MatchKey   string
	StatusCode int
	Reason     string
	Headers    []HeaderMapping
	Body       *Extractor // nil when the rule produces no body
}

// Table holds the compiled rule sets for both directions. It is immutable
// after NewTable; a reload builds a fresh Table and swaps it in wholesale.
type Table struct {
	policy        MissingPolicy
	requests      map[string]*RequestRule
	requestOrder  []string
	responses     map[string]*ResponseRule
	responseOrder []string
}

// NewTable compiles and validates a declarative rule set. Any invalid
// extractor or duplicate match key fails the whole load; a table is either
// fully valid or not installed at all.
func NewTable(cfg TableConfig) (*Table, error) {
	policy, err := ParseMissingPolicy(cfg.OnMissing)
	if err != nil {
		return nil, err
	}

	t := &Table{
		policy:    policy,
		requests:  make(map[string]*RequestRule, len(cfg.SIPToGRPC)),
		responses: make(map[string]*ResponseRule, len(cfg.GRPCToSIP)),
	}

	for _, rc := range cfg.SIPToGRPC {
		rule, err := compileRequestRule(rc)
		if err != nil {
			return nil, err
		}
		if _, ok := t.requests[rule.MatchKey]; ok {
			return nil, fmt.Errorf("sip_to_grpc rule %q: duplicate match key", rule.MatchKey)
		}
		t.requests[rule.MatchKey] = rule
		t.requestOrder = append(t.requestOrder, rule.MatchKey)
	}

	for _, rc := range cfg.GRPCToSIP {
		rule, err := compileResponseRule(rc)
		if err != nil {
			return nil, err
		}
		if _, ok := t.responses[rule.MatchKey]; ok {
			return nil, fmt.Errorf("grpc_to_sip rule %q: duplicate match key", rule.MatchKey)
		}
		t.responses[rule.MatchKey] = rule
		t.responseOrder = append(t.responseOrder, rule.MatchKey)
	}

	return t, nil
}

func compileRequestRule(rc RequestRuleConfig) (*RequestRule, error) {
	if rc.Match == "" {
		return nil, fmt.Errorf("sip_to_grpc rule: empty match key")
	}
	if rc.Endpoint == "" || rc.Method == "" {
		return nil, fmt.Errorf("sip_to_grpc rule %q: endpoint and method are required", rc.Match)
	}
	rule := &RequestRule{
		MatchKey:     rc.Match,
		EndpointName: rc.Endpoint,
		TargetMethod: rc.Method,
		Fields:       make([]FieldMapping, 0, len(rc.Fields)),
	}
	for i, fc := range rc.Fields {
		// Paths made of dots only normalise to zero segments, which the
		// field tree cannot address. Reject them here, not at call time.
		path := fieldtree.ParsePath(fc.Path)
		if len(path) == 0 {
			return nil, fmt.Errorf("sip_to_grpc rule %q: field %d: empty path %q", rc.Match, i, fc.Path)
		}
		x, err := CompileExtractor(fc.Spec, SIPToRPC)
		if err != nil {
			return nil, fmt.Errorf("sip_to_grpc rule %q: field %q: %w", rc.Match, fc.Path, err)
		}
		rule.Fields = append(rule.Fields, FieldMapping{
			Path:      path,
			Extractor: x,
		})
	}
	return rule, nil
}

func compileResponseRule(rc ResponseRuleConfig) (*ResponseRule, error) {
	if rc.Match == "" {
		return nil, fmt.Errorf("grpc_to_sip rule: empty match key")
	}
	if rc.Status < 100 || rc.Status > 699 {
		return nil, fmt.Errorf("grpc_to_sip rule %q: status %d out of range", rc.Match, rc.Status)
	}
	rule := &ResponseRule{
		MatchKey:   rc.Match,
		StatusCode: rc.Status,
		Reason:     rc.Reason,
		Headers:    make([]HeaderMapping, 0, len(rc.Headers)),
	}
	for i, hc := range rc.Headers {
		if hc.Name == "" {
			return nil, fmt.Errorf("grpc_to_sip rule %q: header %d: empty name", rc.Match, i)
		}
		x, err := CompileExtractor(hc.Spec, RPCToSIP)
		if err != nil {
			return nil, fmt.Errorf("grpc_to_sip rule %q: header %q: %w", rc.Match, hc.Name, err)
		}
		rule.Headers = append(rule.Headers, HeaderMapping{Name: hc.Name, Extractor: x})
	}
	if len(rc.Body) > 0 {
		x, err := CompileExtractor(rc.Body, RPCToSIP)
		if err != nil {
			return nil, fmt.Errorf("grpc_to_sip rule %q: body: %w", rc.Match, err)
		}
		rule.Body = x
	}
	return rule, nil
}

// Policy returns the table's missing-value policy.
func (t *Table) Policy() MissingPolicy {
	return t.policy
}

// RequestRule resolves the rule for a SIP method, falling back to DEFAULT.
func (t *Table) RequestRule(method string) (*RequestRule, error) {
	if rule, ok := t.requests[method]; ok {
		return rule, nil
	}
	if rule, ok := t.requests[DefaultMatchKey]; ok {
		return rule, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnmappedMethod, method)
}

// ResponseRule resolves the rule for an endpoint.method pair, falling back
// to DEFAULT.
func (t *Table) ResponseRule(endpointName, method string) (*ResponseRule, error) {
	key := endpointName + "." + method
	if rule, ok := t.responses[key]; ok {
		return rule, nil
	}
	if rule, ok := t.responses[DefaultMatchKey]; ok {
		return rule, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnmappedResponse, key)
}

// RequestRules returns the SIP→RPC rules in declaration order.
func (t *Table) RequestRules() []*RequestRule {
	out := make([]*RequestRule, 0, len(t.requestOrder))
	for _, key := range t.requestOrder {
		out = append(out, t.requests[key])
	}
	return out
}

// ResponseRules returns the RPC→SIP rules in declaration order.
func (t *Table) ResponseRules() []*ResponseRule {
	out := make([]*ResponseRule, 0, len(t.responseOrder))
	for _, key := range t.responseOrder {
		out = append(out, t.responses[key])
	}
	return out
}
