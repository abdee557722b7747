// Package rpc implements the outbound gRPC client that carries translated
// calls to backend endpoints. Request payloads travel as protobuf Structs,
// so no per-service generated stubs are needed; the mapping rules alone
// decide the wire shape.
package rpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"icc.tech/sip-grpc-gateway/internal/endpoint"
	"icc.tech/sip-grpc-gateway/internal/fieldtree"
	"icc.tech/sip-grpc-gateway/internal/mapping"
)

// Invoker is the call surface the gateway pipeline depends on.
type Invoker interface {
	Invoke(ctx context.Context, desc *mapping.CallDescriptor) (*fieldtree.Node, error)
	Close() error
}

// Client dials backend endpoints lazily and caches one connection per
// endpoint address. gRPC multiplexes calls over a single connection, so one
// per backend is enough.
type Client struct {
	callTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewClient creates a backend client with the given per-call timeout.
func NewClient(callTimeout time.Duration) *Client {
	return &Client{
		callTimeout: callTimeout,
		conns:       make(map[string]*grpc.ClientConn),
	}
}

// Invoke sends the descriptor's field tree to its endpoint and converts the
// Struct response back into a field tree for response translation.
func (c *Client) Invoke(ctx context.Context, desc *mapping.CallDescriptor) (*fieldtree.Node, error) {
	conn, err := c.conn(desc.Endpoint)
	if err != nil {
		return nil, err
	}

	req, err := desc.Fields.Struct()
	if err != nil {
		return nil, fmt.Errorf("build request payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, desc.FullMethod(), req, resp); err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", desc.FullMethod(), desc.Endpoint.Addr(), err)
	}

	return fieldtree.FromStruct(resp), nil
}

// conn returns the cached connection for ep, dialing on first use.
// A removed-then-readded endpoint with a new address gets a fresh
// connection because the cache key includes the address.
func (c *Client) conn(ep endpoint.Endpoint) (*grpc.ClientConn, error) {
	key := ep.Name + "/" + ep.Addr()

	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[key]; ok {
		return conn, nil
	}

	creds := insecure.NewCredentials()
	if ep.UseTLS {
		creds = credentials.NewTLS(&tls.Config{})
	}
	conn, err := grpc.NewClient(ep.Addr(), grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial endpoint %q at %s: %w", ep.Name, ep.Addr(), err)
	}
	c.conns[key] = conn
	return conn, nil
}

// Close tears down all cached connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, key)
	}
	return firstErr
}
