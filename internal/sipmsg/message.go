// Package sipmsg defines the gateway's SIP message model: requests and
// responses with ordered, case-insensitively addressable headers, plus the
// wire codec used by the transport layer.
package sipmsg

import (
	"strings"
)

// Headers is an ordered header-name → value mapping. Lookup is
// case-insensitive; setting an existing name overwrites its value in place
// (last write wins) while the name keeps its original position and spelling.
type Headers struct {
	order  []string          // display names in first-insertion order
	values map[string]string // lowercase name → value
}

// NewHeaders creates an empty header map.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string]string)}
}

// Set stores value under name, replacing any existing value for the same
// name regardless of case.
func (h *Headers) Set(name, value string) {
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		h.order = append(h.order, name)
	}
	h.values[key] = value
}

// Get returns the value for name using case-insensitive matching.
func (h *Headers) Get(name string) (string, bool) {
	v, ok := h.values[strings.ToLower(name)]
	return v, ok
}

// Len returns the number of headers.
func (h *Headers) Len() int {
	return len(h.order)
}

// Names returns the header display names in insertion order.
func (h *Headers) Names() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Each calls fn for every header in insertion order.
func (h *Headers) Each(fn func(name, value string)) {
	for _, name := range h.order {
		fn(name, h.values[strings.ToLower(name)])
	}
}

// Clone returns an independent copy.
func (h *Headers) Clone() *Headers {
	out := NewHeaders()
	h.Each(out.Set)
	return out
}

// Request is a parsed inbound SIP request. It is built once by the
// transport and treated as immutable by everything downstream.
type Request struct {
	Method  string
	URI     string
	Headers *Headers
	Body    string
}

// Response is an outbound SIP response envelope. The engine assembles it
// and hands it to the transport for rendering; header order is the order
// headers were appended.
type Response struct {
	StatusCode int
	Reason     string
	Headers    *Headers
	Body       string
}

// NewResponse creates a response with an empty header set.
func NewResponse(statusCode int, reason string) *Response {
	return &Response{
		StatusCode: statusCode,
		Reason:     reason,
		Headers:    NewHeaders(),
	}
}
