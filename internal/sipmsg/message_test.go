package sipmsg

import (
	"strings"
	"testing"
)

func TestHeadersCaseInsensitiveLookup(t *testing.T) {
	h := NewHeaders()
	h.Set("Call-ID", "cid1")

	for _, name := range []string{"Call-ID", "call-id", "CALL-ID"} {
		if got, ok := h.Get(name); !ok || got != "cid1" {
			t.Errorf("Get(%q): got %q, %v", name, got, ok)
		}
	}
	if _, ok := h.Get("Contact"); ok {
		t.Error("absent header should not resolve")
	}
}

func TestHeadersLastWriteWins(t *testing.T) {
	h := NewHeaders()
	h.Set("From", "alice")
	h.Set("To", "bob")
	h.Set("FROM", "carol")

	if got, _ := h.Get("from"); got != "carol" {
		t.Errorf("value: got %q, want carol", got)
	}
	names := h.Names()
	if len(names) != 2 {
		t.Fatalf("Names: got %v, want 2 entries", names)
	}
	// Overwrite keeps the original position and spelling.
	if names[0] != "From" || names[1] != "To" {
		t.Errorf("Names: got %v, want [From To]", names)
	}
}

func TestHeadersEachPreservesInsertionOrder(t *testing.T) {
	h := NewHeaders()
	in := [][2]string{{"Via", "v"}, {"From", "f"}, {"To", "t"}, {"Call-ID", "c"}}
	for _, kv := range in {
		h.Set(kv[0], kv[1])
	}
	var got []string
	h.Each(func(name, _ string) { got = append(got, name) })
	want := []string{"Via", "From", "To", "Call-ID"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Each order: got %v, want %v", got, want)
		}
	}
}

func TestRenderResponse(t *testing.T) {
	res := NewResponse(200, "OK")
	res.Headers.Set("Contact", "<sip:example@10.0.0.1:50051>")
	res.Headers.Set("Call-ID", "cid1")
	res.Body = "status=ok"

	wire := string(RenderResponse(res))
	if !strings.HasPrefix(wire, "SIP/2.0 200 OK\r\n") {
		t.Errorf("status line: %q", wire)
	}
	contactIdx := strings.Index(wire, "Contact:")
	callIDIdx := strings.Index(wire, "Call-ID:")
	if contactIdx == -1 || callIDIdx == -1 || contactIdx > callIDIdx {
		t.Errorf("header order not preserved: %q", wire)
	}
	if !strings.Contains(wire, "Content-Length: 9\r\n") {
		t.Errorf("missing Content-Length: %q", wire)
	}
	if !strings.HasSuffix(wire, "\r\n\r\nstatus=ok") {
		t.Errorf("body framing: %q", wire)
	}
}

func TestExtract(t *testing.T) {
	msg := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"From: alice\r\n" +
		"Content-Length: 4\r\n" +
		"\r\n" +
		"abcd"

	t.Run("complete message", func(t *testing.T) {
		got, n, err := Extract([]byte(msg + "REGIS"))
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if n != len(msg) || string(got) != msg {
			t.Errorf("consumed %d, want %d", n, len(msg))
		}
	})

	t.Run("incomplete headers", func(t *testing.T) {
		_, n, err := Extract([]byte("INVITE sip:bob@example.com SIP/2.0\r\nFrom: a"))
		if err != nil || n != 0 {
			t.Errorf("want more-data signal, got n=%d err=%v", n, err)
		}
	})

	t.Run("incomplete body", func(t *testing.T) {
		_, n, err := Extract([]byte(msg[:len(msg)-2]))
		if err != nil || n != 0 {
			t.Errorf("want more-data signal, got n=%d err=%v", n, err)
		}
	})

	t.Run("no content length means no body", func(t *testing.T) {
		raw := "BYE sip:bob@example.com SIP/2.0\r\nFrom: alice\r\n\r\n"
		got, n, err := Extract([]byte(raw + "trailing"))
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if n != len(raw) || string(got) != raw {
			t.Errorf("consumed %d, want %d", n, len(raw))
		}
	})
}
