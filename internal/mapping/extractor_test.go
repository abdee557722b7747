package mapping

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icc.tech/sip-grpc-gateway/internal/fieldtree"
	"icc.tech/sip-grpc-gateway/internal/sipmsg"
)

func testRequest() *sipmsg.Request {
	h := sipmsg.NewHeaders()
	h.Set("From", "alice")
	h.Set("To", "bob")
	h.Set("Call-ID", "cid1")
	return &sipmsg.Request{
		Method:  "INVITE",
		URI:     "sip:bob@example.com",
		Headers: h,
		Body:    "v=0",
	}
}

func TestCompileExtractorValidation(t *testing.T) {
	tests := []struct {
		name string
		spec map[string]any
		dir  Direction
		ok   bool
	}{
		{"literal", map[string]any{"literal": "x"}, SIPToRPC, true},
		{"field", map[string]any{"field": "headers.From"}, SIPToRPC, true},
		{"header", map[string]any{"extract_header": "Expires"}, SIPToRPC, true},
		{"header with default", map[string]any{"extract_header": "Expires", "default": "3600"}, SIPToRPC, true},
		{"template", map[string]any{"template": "{method}"}, RPCToSIP, true},
		{"empty spec", map[string]any{}, SIPToRPC, false},
		{"two kinds", map[string]any{"literal": "x", "field": "y"}, SIPToRPC, false},
		{"stray default", map[string]any{"literal": "x", "default": "y"}, SIPToRPC, false},
		{"unknown key", map[string]any{"literal": "x", "bogus": "y"}, SIPToRPC, false},
		{"header in response direction", map[string]any{"extract_header": "From"}, RPCToSIP, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileExtractor(tt.spec, tt.dir)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidExtractor)
			}
		})
	}
}

func TestCompileExtractorWeakTyping(t *testing.T) {
	// YAML delivers unquoted scalars as ints; the default must survive that.
	x, err := CompileExtractor(map[string]any{"extract_header": "Expires", "default": 3600}, SIPToRPC)
	require.NoError(t, err)

	req := testRequest()
	node, err := x.Resolve(NewRequestContext(req), MissEmpty)
	require.NoError(t, err)
	assert.Equal(t, "3600", node.Value())
}

func TestResolveKinds(t *testing.T) {
	ctx := NewRequestContext(testRequest())

	tests := []struct {
		name string
		spec map[string]any
		want string
	}{
		{"literal", map[string]any{"literal": "fixed"}, "fixed"},
		{"field method", map[string]any{"field": "method"}, "INVITE"},
		{"field header", map[string]any{"field": "headers.From"}, "alice"},
		{"field missing", map[string]any{"field": "headers.Nope"}, ""},
		{"header case-insensitive", map[string]any{"extract_header": "call-id"}, "cid1"},
		{"header default used", map[string]any{"extract_header": "Expires", "default": "3600"}, "3600"},
		{"header missing no default", map[string]any{"extract_header": "Expires"}, ""},
		{"template", map[string]any{"template": "{headers.From}->{headers.To}"}, "alice->bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := CompileExtractor(tt.spec, SIPToRPC)
			require.NoError(t, err)
			node, err := x.Resolve(ctx, MissEmpty)
			require.NoError(t, err)
			assert.Equal(t, tt.want, node.Value())
		})
	}
}

func TestResolveFieldCopiesSubtree(t *testing.T) {
	ctx := NewRequestContext(testRequest())
	x, err := CompileExtractor(map[string]any{"field": "headers"}, SIPToRPC)
	require.NoError(t, err)

	node, err := x.Resolve(ctx, MissEmpty)
	require.NoError(t, err)
	require.False(t, node.IsLeaf())
	assert.Equal(t, []string{"From", "To", "Call-ID"}, node.Keys())

	// The copy is detached from the source context.
	node.SetLeaf([]string{"From"}, "mallory")
	got, _ := ctx.Tree().Lookup([]string{"headers", "From"})
	assert.Equal(t, "alice", got)
}

func TestResolveStrictPolicy(t *testing.T) {
	ctx := NewRequestContext(testRequest())

	x, _ := CompileExtractor(map[string]any{"extract_header": "Expires"}, SIPToRPC)
	_, err := x.Resolve(ctx, MissError)
	assert.ErrorIs(t, err, ErrMissingValue)

	// A configured default satisfies the strict policy.
	x, _ = CompileExtractor(map[string]any{"extract_header": "Expires", "default": "3600"}, SIPToRPC)
	node, err := x.Resolve(ctx, MissError)
	require.NoError(t, err)
	assert.Equal(t, "3600", node.Value())
}

func TestResponseContextExposesData(t *testing.T) {
	data := fieldtree.FromMap(map[string]any{"call_id": "cid1", "status": "ok"})
	ctx := NewResponseContext(data)

	x, err := CompileExtractor(map[string]any{"field": "data.call_id"}, RPCToSIP)
	require.NoError(t, err)
	node, err := x.Resolve(ctx, MissEmpty)
	require.NoError(t, err)
	assert.Equal(t, "cid1", node.Value())

	_, err = CompileExtractor(map[string]any{"extract_header": "From"}, RPCToSIP)
	if !errors.Is(err, ErrInvalidExtractor) {
		t.Errorf("extract_header in response rules: got %v, want ErrInvalidExtractor", err)
	}
}
