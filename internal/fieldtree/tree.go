// Package fieldtree implements the nested field tree used as the structured
// payload of RPC calls and as the lookup context for field extraction.
// Dot-paths ("request.caller") are parsed once into segment slices; every
// tree level keeps child insertion order because field population order is
// observable to callers.
package fieldtree

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// Node is either a leaf holding a string value or a branch with named,
// insertion-ordered children. The zero value is not usable; construct nodes
// with NewBranch or Leaf.
type Node struct {
	value    string
	children map[string]*Node // nil for leaf nodes
	order    []string         // child insertion order
}

// NewBranch creates an empty branch node.
func NewBranch() *Node {
	return &Node{children: make(map[string]*Node)}
}

// Leaf creates a leaf node holding value.
func Leaf(value string) *Node {
	return &Node{value: value}
}

// IsLeaf reports whether the node is a leaf.
func (n *Node) IsLeaf() bool {
	return n.children == nil
}

// Value returns the leaf value; branches return the empty string.
func (n *Node) Value() string {
	if n == nil {
		return ""
	}
	return n.value
}

// Keys returns the child names of a branch in insertion order.
func (n *Node) Keys() []string {
	keys := make([]string, len(n.order))
	copy(keys, n.order)
	return keys
}

// Set places child at path, creating intermediate branch nodes as needed.
// Setting through an existing leaf replaces the leaf with a branch.
func (n *Node) Set(path []string, child *Node) {
	cur := n
	for _, seg := range path[:len(path)-1] {
		next, ok := cur.children[seg]
		if !ok || next.IsLeaf() {
			next = NewBranch()
			if !ok {
				cur.order = append(cur.order, seg)
			}
			cur.children[seg] = next
		}
		cur = next
	}
	last := path[len(path)-1]
	if _, ok := cur.children[last]; !ok {
		cur.order = append(cur.order, last)
	}
	cur.children[last] = child
}

// SetLeaf is shorthand for Set(path, Leaf(value)).
func (n *Node) SetLeaf(path []string, value string) {
	n.Set(path, Leaf(value))
}

// Get walks the tree along path. The second return value is false when any
// segment is missing or when the walk descends through a leaf.
func (n *Node) Get(path []string) (*Node, bool) {
	cur := n
	for _, seg := range path {
		if cur.IsLeaf() {
			return nil, false
		}
		next, ok := cur.children[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Lookup resolves a dot-path and returns the leaf value at it.
// Branch hits and missing paths both return ok=false for value lookups,
// except that a branch hit still returns the node for callers that can
// handle subtrees.
func (n *Node) Lookup(path []string) (string, bool) {
	node, ok := n.Get(path)
	if !ok || !node.IsLeaf() {
		return "", false
	}
	return node.value, true
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n.IsLeaf() {
		return Leaf(n.value)
	}
	out := NewBranch()
	for _, key := range n.order {
		out.order = append(out.order, key)
		out.children[key] = n.children[key].Clone()
	}
	return out
}

// ParsePath splits a dot-path into segments. Empty segments are dropped so
// "a..b" and ".a.b" normalise to the same path.
func ParsePath(path string) []string {
	parts := strings.Split(path, ".")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// Map converts the tree to nested map[string]any with string leaves,
// the shape structpb.NewStruct accepts.
func (n *Node) Map() map[string]any {
	out := make(map[string]any, len(n.order))
	for _, key := range n.order {
		child := n.children[key]
		if child.IsLeaf() {
			out[key] = child.value
		} else {
			out[key] = child.Map()
		}
	}
	return out
}

// Struct converts a branch node to a protobuf Struct for transmission.
func (n *Node) Struct() (*structpb.Struct, error) {
	if n.IsLeaf() {
		return nil, fmt.Errorf("fieldtree: cannot convert leaf node to struct")
	}
	s, err := structpb.NewStruct(n.Map())
	if err != nil {
		return nil, fmt.Errorf("fieldtree: convert to struct: %w", err)
	}
	return s, nil
}

// FromStruct builds a tree from a protobuf Struct. Scalar values are
// stringified; lists are flattened to their JSON rendering since the mapping
// language addresses scalars and subtrees only.
func FromStruct(s *structpb.Struct) *Node {
	if s == nil {
		return NewBranch()
	}
	return FromMap(s.AsMap())
}

// FromMap builds a tree from a nested map, stringifying scalar leaves.
// Map iteration order is not stable, so keys are sorted to keep conversion
// deterministic.
func FromMap(m map[string]any) *Node {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	root := NewBranch()
	for _, key := range keys {
		root.order = append(root.order, key)
		root.children[key] = fromValue(m[key])
	}
	return root
}

func fromValue(val any) *Node {
	switch v := val.(type) {
	case map[string]any:
		return FromMap(v)
	case string:
		return Leaf(v)
	case bool:
		return Leaf(strconv.FormatBool(v))
	case float64:
		// structpb renders all numbers as float64; keep integers clean.
		if v == float64(int64(v)) {
			return Leaf(strconv.FormatInt(int64(v), 10))
		}
		return Leaf(strconv.FormatFloat(v, 'f', -1, 64))
	case nil:
		return Leaf("")
	default:
		return Leaf(fmt.Sprintf("%v", v))
	}
}
