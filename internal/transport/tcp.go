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

// TCPServer serves SIP over TCP. Messages are framed by header terminator
// plus Content-Length before parsing; responses go back on the same
// connection, serialised by a per-connection write lock.
type TCPServer struct {
	addr    string
	maxMsg  int
	handler Handler

	listener net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	stopped bool
}

// NewTCPServer creates a TCP listener for addr.
func NewTCPServer(addr string, maxMsg int, handler Handler) *TCPServer {
	return &TCPServer{
		addr:    addr,
		maxMsg:  maxMsg,
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and serves until the context is cancelled.
func (s *TCPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", s.addr, err)
	}
	s.listener = listener

	slog.Info("sip tcp listener started", "addr", listener.Addr())

	go s.acceptLoop(ctx)

	<-ctx.Done()
	slog.Info("sip tcp listener stopping", "reason", ctx.Err())
	return s.Stop()
}

func (s *TCPServer) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			slog.Error("failed to accept connection", "error", err)
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	slog.Debug("sip tcp connection established", "remote", conn.RemoteAddr())

	p := NewParser()
	var writeMu sync.Mutex
	var handlers sync.WaitGroup
	defer handlers.Wait()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		n, err := conn.Read(chunk)
		if err != nil {
			slog.Debug("sip tcp connection closed", "remote", conn.RemoteAddr())
			return
		}
		buf = append(buf, chunk[:n]...)
		if len(buf) > s.maxMsg {
			slog.Warn("oversized SIP message, dropping connection", "remote", conn.RemoteAddr())
			return
		}

		for {
			data, consumed, err := sipmsg.Extract(buf)
			if err != nil {
				slog.Warn("unframeable SIP stream, dropping connection", "remote", conn.RemoteAddr(), "error", err)
				return
			}
			if consumed == 0 {
				break
			}
			buf = buf[consumed:]

			req, err := p.ParseRequest(data)
			if err != nil {
				if errors.Is(err, ErrNotARequest) {
					slog.Debug("dropping inbound SIP response", "remote", conn.RemoteAddr())
				} else {
					slog.Warn("unparseable SIP message", "remote", conn.RemoteAddr(), "error", err)
				}
				continue
			}

			handlers.Add(1)
			go func() {
				defer handlers.Done()
				resp := s.handler.ServeSIP(ctx, req)
				writeMu.Lock()
				defer writeMu.Unlock()
				if _, err := conn.Write(sipmsg.RenderResponse(resp)); err != nil {
					slog.Error("tcp write failed", "remote", conn.RemoteAddr(), "error", err)
				}
			}()
		}
	}
}

// Stop closes the listener and all connections, waiting for handlers.
func (s *TCPServer) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	slog.Info("sip tcp listener stopped")
	return nil
}
