// Package transport implements the SIP listeners: UDP datagrams and framed
// TCP streams are parsed into requests, handed to the gateway handler, and
// the resulting responses are written back to the originating peer.
package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"

	"icc.tech/sip-grpc-gateway/internal/sipmsg"
)

// ErrNotARequest is returned for inbound SIP responses. The gateway only
// terminates requests; stray responses are dropped by the listeners.
var ErrNotARequest = errors.New("inbound message is not a SIP request")

// Parser converts raw SIP wire data into the gateway's request model.
// Instances are not safe for concurrent use; each listener goroutine owns
// its own.
type Parser struct {
	delegate *parser.PacketParser
}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{delegate: parser.NewPacketParser(NewLoggerAdapter())}
}

// ParseRequest parses one complete SIP message and converts it. Duplicate
// header names collapse to the last value, matching the mapping engine's
// lookup semantics.
func (p *Parser) ParseRequest(data []byte) (*sipmsg.Request, error) {
	msg, err := p.delegate.ParseMessage(data)
	if err != nil {
		return nil, fmt.Errorf("parse SIP message: %w", err)
	}

	req, ok := msg.(sip.Request)
	if !ok {
		return nil, ErrNotARequest
	}

	headers := sipmsg.NewHeaders()
	for _, h := range msg.Headers() {
		headers.Set(h.Name(), h.Value())
	}

	return &sipmsg.Request{
		Method:  string(req.Method()),
		URI:     requestURI(msg.StartLine()),
		Headers: headers,
		Body:    msg.Body(),
	}, nil
}

// requestURI pulls the Request-URI out of the start line
// ("INVITE sip:bob@example.com SIP/2.0").
func requestURI(startLine string) string {
	parts := strings.Fields(startLine)
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
