package sipmsg

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const sipVersion = "SIP/2.0"

var headerEnd = []byte("\r\n\r\n")

// Extract returns the first complete SIP message in data and the number of
// bytes it consumed, for use by stream transports. A zero consumed count
// means more data is needed. The header section ends at the first double
// CRLF; the body length comes from Content-Length (absent means no body).
func Extract(data []byte) (msg []byte, consumed int, err error) {
	idx := bytes.Index(data, headerEnd)
	if idx == -1 {
		return nil, 0, nil
	}
	headLen := idx + len(headerEnd)

	bodyLen := 0
	for _, line := range strings.Split(string(data[:idx]), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, convErr := strconv.Atoi(strings.TrimSpace(value))
			if convErr != nil {
				return nil, 0, fmt.Errorf("sipmsg: bad Content-Length %q: %w", value, convErr)
			}
			bodyLen = n
		}
	}

	total := headLen + bodyLen
	if len(data) < total {
		return nil, 0, nil
	}
	out := make([]byte, total)
	copy(out, data[:total])
	return out, total, nil
}

// RenderResponse serialises a response to its RFC 3261 wire form. Headers
// are written in insertion order; Content-Length is always appended last
// unless the rule set already produced one.
func RenderResponse(res *Response) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %d %s\r\n", sipVersion, res.StatusCode, res.Reason)

	hasContentLength := false
	res.Headers.Each(func(name, value string) {
		if strings.EqualFold(name, "Content-Length") {
			hasContentLength = true
		}
		fmt.Fprintf(&b, "%s: %s\r\n", name, value)
	})
	if !hasContentLength {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(res.Body))
	}
	b.WriteString("\r\n")
	b.WriteString(res.Body)
	return b.Bytes()
}

// RenderRequest serialises a request; used by the protocol tracer to record
// inbound traffic in its original form when the raw datagram is unavailable.
func RenderRequest(req *Request) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s %s\r\n", req.Method, req.URI, sipVersion)

	hasContentLength := false
	req.Headers.Each(func(name, value string) {
		if strings.EqualFold(name, "Content-Length") {
			hasContentLength = true
		}
		fmt.Fprintf(&b, "%s: %s\r\n", name, value)
	})
	if !hasContentLength {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(req.Body))
	}
	b.WriteString("\r\n")
	b.WriteString(req.Body)
	return b.Bytes()
}
