package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"icc.tech/sip-grpc-gateway/internal/sipmsg"
)

// Handler processes one parsed SIP request and returns the response to
// transmit. Implementations never return nil; translation failures surface
// as synthesized SIP error responses.
type Handler interface {
	ServeSIP(ctx context.Context, req *sipmsg.Request) *sipmsg.Response
}

// UDPServer serves SIP over UDP. One datagram carries one message; each
// request is handled on its own goroutine so a slow backend call does not
// stall the read loop.
type UDPServer struct {
	addr    string
	maxMsg  int
	handler Handler

	conn net.PacketConn
	wg   sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewUDPServer creates a UDP listener for addr.
func NewUDPServer(addr string, maxMsg int, handler Handler) *UDPServer {
	return &UDPServer{addr: addr, maxMsg: maxMsg, handler: handler}
}

// Start binds the socket and serves until the context is cancelled.
func (s *UDPServer) Start(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", s.addr, err)
	}
	s.conn = conn

	slog.Info("sip udp listener started", "addr", conn.LocalAddr())

	go s.readLoop(ctx)

	<-ctx.Done()
	slog.Info("sip udp listener stopping", "reason", ctx.Err())
	return s.Stop()
}

func (s *UDPServer) readLoop(ctx context.Context) {
	p := NewParser()
	buf := make([]byte, s.maxMsg)

	for {
		n, remote, err := s.conn.ReadFrom(buf)
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			slog.Error("udp read failed", "error", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		req, err := p.ParseRequest(data)
		if err != nil {
			if errors.Is(err, ErrNotARequest) {
				slog.Debug("dropping inbound SIP response", "remote", remote)
			} else {
				slog.Warn("unparseable SIP datagram", "remote", remote, "error", err)
			}
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			resp := s.handler.ServeSIP(ctx, req)
			if _, err := s.conn.WriteTo(sipmsg.RenderResponse(resp), remote); err != nil {
				slog.Error("udp write failed", "remote", remote, "error", err)
			}
		}()
	}
}

// Stop closes the socket and waits for in-flight handlers.
func (s *UDPServer) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()

	slog.Info("sip udp listener stopped")
	return nil
}
