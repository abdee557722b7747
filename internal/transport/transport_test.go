package transport

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"icc.tech/sip-grpc-gateway/internal/sipmsg"
)

var inviteWire = strings.Join([]string{
	"INVITE sip:bob@example.com SIP/2.0",
	"Via: SIP/2.0/UDP 10.0.0.2:5060;branch=z9hG4bK776asdhds",
	"Max-Forwards: 70",
	"From: <sip:alice@example.com>;tag=1928301774",
	"To: <sip:bob@example.com>",
	"Call-ID: cid1@10.0.0.2",
	"CSeq: 314159 INVITE",
	"Content-Length: 0",
	"",
	"",
}, "\r\n")

// echoHandler answers every request with 200 OK carrying the method in a
// header, enough to verify the request survived the transport round trip.
type echoHandler struct{}

func (echoHandler) ServeSIP(_ context.Context, req *sipmsg.Request) *sipmsg.Response {
	resp := sipmsg.NewResponse(200, "OK")
	resp.Headers.Set("X-Echo-Method", req.Method)
	resp.Headers.Set("X-Echo-URI", req.URI)
	from, _ := req.Headers.Get("From")
	resp.Headers.Set("X-Echo-From", from)
	return resp
}

func TestParserConvertsRequest(t *testing.T) {
	p := NewParser()

	req, err := p.ParseRequest([]byte(inviteWire))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Method != "INVITE" {
		t.Errorf("method: got %q", req.Method)
	}
	if req.URI != "sip:bob@example.com" {
		t.Errorf("uri: got %q", req.URI)
	}
	if got, _ := req.Headers.Get("call-id"); got != "cid1@10.0.0.2" {
		t.Errorf("Call-ID (case-insensitive): got %q", got)
	}
}

func TestParserRejectsResponses(t *testing.T) {
	wire := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.2:5060;branch=z9hG4bK776asdhds\r\n" +
		"From: <sip:alice@example.com>;tag=1\r\n" +
		"To: <sip:bob@example.com>;tag=2\r\n" +
		"Call-ID: cid1@10.0.0.2\r\n" +
		"CSeq: 314159 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"

	p := NewParser()
	if _, err := p.ParseRequest([]byte(wire)); err == nil {
		t.Fatal("expected error for inbound response")
	}
}

func TestUDPServerRoundTrip(t *testing.T) {
	srv := NewUDPServer("127.0.0.1:0", 65535, echoHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	// Wait for the socket to come up.
	var addr net.Addr
	for i := 0; i < 100; i++ {
		if srv.conn != nil {
			addr = srv.conn.LocalAddr()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == nil {
		t.Fatal("udp server did not start")
	}

	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(inviteWire)); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	got := string(buf[:n])
	if !strings.HasPrefix(got, "SIP/2.0 200 OK\r\n") {
		t.Errorf("unexpected status line: %q", got)
	}
	if !strings.Contains(got, "X-Echo-Method: INVITE") {
		t.Errorf("missing echoed method: %q", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned error: %v", err)
	}
}

func TestTCPServerHandlesFragmentedStream(t *testing.T) {
	srv := NewTCPServer("127.0.0.1:0", 65535, echoHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	var addr net.Addr
	for i := 0; i < 100; i++ {
		if srv.listener != nil {
			addr = srv.listener.Addr()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == nil {
		t.Fatal("tcp server did not start")
	}

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Write the message in two fragments to exercise stream reassembly.
	half := len(inviteWire) / 2
	if _, err := conn.Write([]byte(inviteWire[:half])); err != nil {
		t.Fatalf("write first fragment: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := conn.Write([]byte(inviteWire[half:])); err != nil {
		t.Fatalf("write second fragment: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	got := string(buf[:n])
	if !strings.HasPrefix(got, "SIP/2.0 200 OK\r\n") {
		t.Errorf("unexpected status line: %q", got)
	}
	if !strings.Contains(got, "X-Echo-From: <sip:alice@example.com>;tag=1928301774") {
		t.Errorf("missing echoed From: %q", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned error: %v", err)
	}
}
