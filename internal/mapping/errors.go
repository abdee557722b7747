package mapping

import "errors"

// Translation and rule-load error kinds. All are scoped to a single call or
// to table load; none are process-fatal. Callers branch with errors.Is.
var (
	// ErrUnmappedMethod: no rule and no DEFAULT for an inbound SIP method.
	ErrUnmappedMethod = errors.New("no mapping rule for SIP method")
	// ErrUnknownEndpoint: a rule references an endpoint absent from the registry.
	ErrUnknownEndpoint = errors.New("rule references unknown endpoint")
	// ErrUnmappedResponse: no rule and no DEFAULT for an endpoint.method key.
	ErrUnmappedResponse = errors.New("no mapping rule for RPC response")
	// ErrInvalidExtractor: a rule value spec sets zero or multiple extractor
	// kinds, or uses a kind illegal for its direction. Reported at table
	// load, never per call.
	ErrInvalidExtractor = errors.New("invalid extractor spec")
	// ErrMissingValue: a header or template path did not resolve and the
	// table's missing-value policy is "error".
	ErrMissingValue = errors.New("missing value")
)
