package config

import (
	"os"
	"path/filepath"
	"testing"

	"icc.tech/sip-grpc-gateway/internal/mapping"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
sip-gateway:
  node:
    ip: "192.168.1.10"
  control:
    pid_file: "/tmp/test.pid"
    socket: "/tmp/test.sock"
  sip:
    listen_udp: ":5070"
  grpc:
    call_timeout: "3s"
    endpoints:
      - name: "example"
        host: "10.0.0.1"
        port: 50051
        service: "example.ExampleService"
  mapping:
    on_missing: "error"
    sip_to_grpc:
      - match: "INVITE"
        endpoint: "example"
        method: "Call"
        fields:
          - path: "request.caller"
            extract_header: "From"
  log:
    level: "debug"
    format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Control.PIDFile != "/tmp/test.pid" {
		t.Errorf("Expected PIDFile /tmp/test.pid, got %s", cfg.Control.PIDFile)
	}
	if cfg.SIP.ListenUDP != ":5070" {
		t.Errorf("Expected listen_udp :5070, got %s", cfg.SIP.ListenUDP)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if len(cfg.GRPC.Endpoints) != 1 || cfg.GRPC.Endpoints[0].Name != "example" {
		t.Errorf("Expected endpoint example, got %v", cfg.GRPC.Endpoints)
	}
	if cfg.GRPC.CallTimeoutDuration().Seconds() != 3 {
		t.Errorf("Expected call timeout 3s, got %v", cfg.GRPC.CallTimeoutDuration())
	}
	if cfg.Node.IP != "192.168.1.10" {
		t.Errorf("Expected node IP 192.168.1.10, got %s", cfg.Node.IP)
	}
	if len(cfg.Mapping.SIPToGRPC) != 1 {
		t.Fatalf("Expected 1 inline rule, got %d", len(cfg.Mapping.SIPToGRPC))
	}
	rule := cfg.Mapping.SIPToGRPC[0]
	if rule.Match != "INVITE" || len(rule.Fields) != 1 {
		t.Errorf("Unexpected rule: %+v", rule)
	}
	// The extractor spec keys must survive as the remainder map.
	if rule.Fields[0].Path != "request.caller" {
		t.Errorf("Expected path request.caller, got %s", rule.Fields[0].Path)
	}
	if got := rule.Fields[0].Spec["extract_header"]; got != "From" {
		t.Errorf("Expected extract_header From in spec, got %v", rule.Fields[0].Spec)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	configPath := writeConfig(t, `
sip-gateway:
  node:
    ip: "10.1.1.1"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Expected default log info/json, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.SIP.ListenUDP != ":5060" {
		t.Errorf("Expected default listen_udp :5060, got %s", cfg.SIP.ListenUDP)
	}
	if cfg.GRPC.CallTimeout != "5s" {
		t.Errorf("Expected default call_timeout 5s, got %s", cfg.GRPC.CallTimeout)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != ":9091" {
		t.Errorf("Expected default metrics :9091, got %+v", cfg.Metrics)
	}
	if cfg.Node.Hostname == "" {
		t.Error("Expected hostname auto-detection")
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
sip-gateway:
  node:
    ip: "10.1.1.1"
  log:
    level: "invalid"
`)
	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid log level, got nil")
	}
}

func TestLoadRejectsBadEndpointAndTimeout(t *testing.T) {
	configPath := writeConfig(t, `
sip-gateway:
  node:
    ip: "10.1.1.1"
  grpc:
    endpoints:
      - name: "example"
        host: "10.0.0.1"
`)
	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for incomplete endpoint, got nil")
	}

	configPath = writeConfig(t, `
sip-gateway:
  node:
    ip: "10.1.1.1"
  grpc:
    call_timeout: "soon"
`)
	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for unparseable call_timeout, got nil")
	}
}

func TestLoadRejectsDuplicateEndpoints(t *testing.T) {
	configPath := writeConfig(t, `
sip-gateway:
  node:
    ip: "10.1.1.1"
  grpc:
    endpoints:
      - name: "example"
        host: "10.0.0.1"
        port: 50051
        service: "a.B"
      - name: "example"
        host: "10.0.0.2"
        port: 50052
        service: "a.C"
`)
	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for duplicate endpoint names, got nil")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yml"); err == nil {
		t.Error("Expected error for missing config file, got nil")
	}
}

func TestTableConfigMergesRulesFile(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yml")
	rules := `
sip_to_grpc:
  - match: "INVITE"
    endpoint: "example"
    method: "Call"
    fields:
      - path: "request.caller"
        extract_header: "From"
grpc_to_sip:
  - match: "example.Call"
    status: 200
    reason: "OK"
`
	if err := os.WriteFile(rulesPath, []byte(rules), 0644); err != nil {
		t.Fatalf("Failed to write rules file: %v", err)
	}

	m := MappingConfig{
		OnMissing: "empty",
		RulesFile: rulesPath,
		SIPToGRPC: []mapping.RequestRuleConfig{
			{
				Match:    "DEFAULT",
				Endpoint: "example",
				Method:   "Forward",
				Fields: []mapping.FieldMappingConfig{
					{Path: "method", Spec: map[string]any{"field": "method"}},
				},
			},
		},
	}

	tc, err := m.TableConfig()
	if err != nil {
		t.Fatalf("TableConfig: %v", err)
	}
	if len(tc.SIPToGRPC) != 2 {
		t.Fatalf("Expected 2 request rules (file + inline), got %d", len(tc.SIPToGRPC))
	}
	// File rules come first, inline rules after.
	if tc.SIPToGRPC[0].Match != "INVITE" || tc.SIPToGRPC[1].Match != "DEFAULT" {
		t.Errorf("Unexpected rule order: %q, %q", tc.SIPToGRPC[0].Match, tc.SIPToGRPC[1].Match)
	}
	if got := tc.SIPToGRPC[0].Fields[0].Spec["extract_header"]; got != "From" {
		t.Errorf("Expected extract_header From from rules file, got %v", tc.SIPToGRPC[0].Fields[0].Spec)
	}
	if len(tc.GRPCToSIP) != 1 || tc.GRPCToSIP[0].Status != 200 {
		t.Errorf("Unexpected response rules: %+v", tc.GRPCToSIP)
	}
}

func TestTableConfigMissingRulesFile(t *testing.T) {
	m := MappingConfig{RulesFile: "/nonexistent/rules.yml"}
	if _, err := m.TableConfig(); err == nil {
		t.Error("Expected error for missing rules file, got nil")
	}
}
