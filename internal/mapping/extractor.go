package mapping

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"icc.tech/sip-grpc-gateway/internal/fieldtree"
	"icc.tech/sip-grpc-gateway/internal/sipmsg"
)

// Direction identifies which translation pipeline a rule belongs to.
// Some extractor kinds are only legal in one direction.
type Direction int

const (
	// SIPToRPC translates inbound SIP requests into RPC call descriptors.
	SIPToRPC Direction = iota
	// RPCToSIP translates RPC responses into SIP response envelopes.
	RPCToSIP
)

func (d Direction) String() string {
	if d == SIPToRPC {
		return "sip_to_grpc"
	}
	return "grpc_to_sip"
}

type extractorKind int

const (
	kindLiteral extractorKind = iota
	kindField
	kindHeader
	kindTemplate
)

// Extractor is one compiled value-producing rule: exactly one of literal,
// field copy, header lookup, or template. The raw configuration shape is
// duck-typed (distinguished by which keys are present); compilation
// validates it once so per-call resolution never re-sniffs.
type Extractor struct {
	kind       extractorKind
	literal    string
	fieldPath  []string
	headerName string
	headerDef  *string
	tmpl       *Template
}

// rawExtractor mirrors the configuration shape of a value spec.
type rawExtractor struct {
	Literal       *string `mapstructure:"literal"`
	Field         *string `mapstructure:"field"`
	ExtractHeader *string `mapstructure:"extract_header"`
	Default       *string `mapstructure:"default"`
	Template      *string `mapstructure:"template"`
}

// CompileExtractor validates and compiles a raw value spec for the given
// direction. Zero or multiple kind keys, unknown keys, a stray default, or
// extract_header outside the SIP→RPC direction are all ErrInvalidExtractor.
func CompileExtractor(spec map[string]any, dir Direction) (*Extractor, error) {
	var raw rawExtractor
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		ErrorUnused:      true,
		WeaklyTypedInput: true, // YAML scalars like `default: 3600` arrive as ints
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExtractor, err)
	}
	if err := dec.Decode(spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExtractor, err)
	}

	kinds := 0
	for _, set := range []bool{raw.Literal != nil, raw.Field != nil, raw.ExtractHeader != nil, raw.Template != nil} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return nil, fmt.Errorf("%w: %d kind keys set, want exactly 1", ErrInvalidExtractor, kinds)
	}
	if raw.Default != nil && raw.ExtractHeader == nil {
		return nil, fmt.Errorf("%w: default is only valid with extract_header", ErrInvalidExtractor)
	}

	switch {
	case raw.Literal != nil:
		return &Extractor{kind: kindLiteral, literal: *raw.Literal}, nil
	case raw.Field != nil:
		return &Extractor{kind: kindField, fieldPath: fieldtree.ParsePath(*raw.Field)}, nil
	case raw.ExtractHeader != nil:
		if dir != SIPToRPC {
			return nil, fmt.Errorf("%w: extract_header is only valid in the %s direction", ErrInvalidExtractor, SIPToRPC)
		}
		return &Extractor{kind: kindHeader, headerName: *raw.ExtractHeader, headerDef: raw.Default}, nil
	default:
		return &Extractor{kind: kindTemplate, tmpl: ParseTemplate(*raw.Template)}, nil
	}
}

// ExtractionContext bundles the source message for extractor resolution:
// the SIP request fields for SIP→RPC, or the RPC response tree (exposed
// under the root key "data") for RPC→SIP.
type ExtractionContext struct {
	tree    *fieldtree.Node
	headers *sipmsg.Headers // nil in the RPC→SIP direction
}

// NewRequestContext builds the SIP→RPC extraction context: method, uri and
// body as leaves, headers as a subtree in wire order.
func NewRequestContext(req *sipmsg.Request) ExtractionContext {
	root := fieldtree.NewBranch()
	root.SetLeaf([]string{"method"}, req.Method)
	root.SetLeaf([]string{"uri"}, req.URI)
	req.Headers.Each(func(name, value string) {
		root.SetLeaf([]string{"headers", name}, value)
	})
	root.SetLeaf([]string{"body"}, req.Body)
	return ExtractionContext{tree: root, headers: req.Headers}
}

// NewResponseContext builds the RPC→SIP extraction context with the
// response payload under "data".
func NewResponseContext(data *fieldtree.Node) ExtractionContext {
	root := fieldtree.NewBranch()
	root.Set([]string{"data"}, data)
	return ExtractionContext{tree: root}
}

// Tree exposes the context's field tree, used as the template render root.
func (c ExtractionContext) Tree() *fieldtree.Node {
	return c.tree
}

// Resolve evaluates the extractor against ctx. The result is usually a
// string leaf; a field copy whose path names a subtree yields the cloned
// subtree so whole sections (e.g. all headers) can be mapped verbatim.
func (x *Extractor) Resolve(ctx ExtractionContext, policy MissingPolicy) (*fieldtree.Node, error) {
	switch x.kind {
	case kindLiteral:
		return fieldtree.Leaf(x.literal), nil

	case kindField:
		node, ok := ctx.tree.Get(x.fieldPath)
		if !ok {
			return fieldtree.Leaf(""), nil
		}
		return node.Clone(), nil

	case kindHeader:
		if val, ok := ctx.headers.Get(x.headerName); ok {
			return fieldtree.Leaf(val), nil
		}
		if x.headerDef != nil {
			return fieldtree.Leaf(*x.headerDef), nil
		}
		if policy == MissError {
			return nil, fmt.Errorf("%w: header %q", ErrMissingValue, x.headerName)
		}
		return fieldtree.Leaf(""), nil

	default: // kindTemplate
		out, err := x.tmpl.Render(ctx.tree, policy)
		if err != nil {
			return nil, err
		}
		return fieldtree.Leaf(out), nil
	}
}
