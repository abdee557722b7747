package command

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"icc.tech/sip-grpc-gateway/internal/endpoint"
	"icc.tech/sip-grpc-gateway/internal/mapping"
)

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Reload() error {
	f.calls++
	return f.err
}

func newTestHandler(t *testing.T, reloader ConfigReloader) *CommandHandler {
	t.Helper()

	registry, err := endpoint.NewRegistry([]endpoint.Endpoint{
		{Name: "example", Host: "10.0.0.1", Port: 50051, Service: "example.ExampleService"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	table, err := mapping.NewTable(mapping.TableConfig{
		SIPToGRPC: []mapping.RequestRuleConfig{
			{Match: "INVITE", Endpoint: "example", Method: "Call"},
		},
		GRPCToSIP: []mapping.ResponseRuleConfig{
			{Match: "DEFAULT", Status: 200, Reason: "OK"},
		},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	return NewCommandHandler(mapping.NewEngine(table, registry), reloader)
}

func TestHandleDaemonStatus(t *testing.T) {
	h := newTestHandler(t, nil)

	resp := h.Handle(context.Background(), Command{Method: "daemon_status", ID: "1"})
	if resp.Error != nil {
		t.Fatalf("error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if result["endpoint_count"] != 1 {
		t.Errorf("endpoint_count: %v", result["endpoint_count"])
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	h := newTestHandler(t, nil)

	resp := h.Handle(context.Background(), Command{Method: "nope", ID: "1"})
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}
}

func TestHandleConfigReload(t *testing.T) {
	reloader := &fakeReloader{}
	h := newTestHandler(t, reloader)

	resp := h.Handle(context.Background(), Command{Method: "config_reload", ID: "1"})
	if resp.Error != nil {
		t.Fatalf("error: %+v", resp.Error)
	}
	if reloader.calls != 1 {
		t.Errorf("reload calls: %d", reloader.calls)
	}

	reloader.err = errors.New("bad rules file")
	resp = h.Handle(context.Background(), Command{Method: "config_reload", ID: "2"})
	if resp.Error == nil || resp.Error.Code != ErrCodeInternalError {
		t.Errorf("expected internal error, got %+v", resp.Error)
	}
}

func TestHandleEndpointCommands(t *testing.T) {
	h := newTestHandler(t, nil)
	ctx := context.Background()

	resp := h.Handle(ctx, Command{
		Method: "endpoint_add",
		Params: []byte(`{"endpoint":{"name":"backup","host":"10.0.0.2","port":50052,"service":"example.BackupService"}}`),
		ID:     "1",
	})
	if resp.Error != nil {
		t.Fatalf("add: %+v", resp.Error)
	}

	resp = h.Handle(ctx, Command{
		Method: "endpoint_add",
		Params: []byte(`{"endpoint":{"name":"incomplete"}}`),
		ID:     "2",
	})
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
		t.Errorf("incomplete add: %+v", resp.Error)
	}

	resp = h.Handle(ctx, Command{Method: "endpoint_list", ID: "3"})
	result := resp.Result.(map[string]interface{})
	if result["count"] != 2 {
		t.Errorf("count after add: %v", result["count"])
	}

	resp = h.Handle(ctx, Command{
		Method: "endpoint_remove",
		Params: []byte(`{"name":"backup"}`),
		ID:     "4",
	})
	if resp.Error != nil {
		t.Fatalf("remove: %+v", resp.Error)
	}

	resp = h.Handle(ctx, Command{
		Method: "endpoint_remove",
		Params: []byte(`{"name":"backup"}`),
		ID:     "5",
	})
	if resp.Error == nil {
		t.Error("removing a missing endpoint should fail")
	}
}

func TestHandleDaemonShutdown(t *testing.T) {
	h := newTestHandler(t, nil)

	resp := h.Handle(context.Background(), Command{Method: "daemon_shutdown", ID: "1"})
	if resp.Error == nil {
		t.Error("shutdown without registered callback should fail")
	}

	called := make(chan struct{})
	h.SetShutdownFunc(func() { close(called) })

	resp = h.Handle(context.Background(), Command{Method: "daemon_shutdown", ID: "2"})
	if resp.Error != nil {
		t.Fatalf("error: %+v", resp.Error)
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Error("shutdown callback not invoked")
	}
}

func TestUDSRoundTrip(t *testing.T) {
	h := newTestHandler(t, &fakeReloader{})
	socket := filepath.Join(t.TempDir(), "sipgw.sock")
	srv := NewUDSServer(socket, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	client := NewUDSClient(socket, 2*time.Second)

	// Wait for the socket to come up.
	var pingErr error
	for i := 0; i < 100; i++ {
		if pingErr = client.Ping(context.Background()); pingErr == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if pingErr != nil {
		t.Fatalf("daemon never answered: %v", pingErr)
	}

	resp, err := client.EndpointList(context.Background())
	if err != nil {
		t.Fatalf("EndpointList: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("error: %+v", resp.Error)
	}

	resp, err = client.MappingList(context.Background())
	if err != nil {
		t.Fatalf("MappingList: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("error: %+v", resp.Error)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned error: %v", err)
	}
}
