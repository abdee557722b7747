// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"icc.tech/sip-grpc-gateway/internal/endpoint"
	"icc.tech/sip-grpc-gateway/internal/mapping"
)

// GlobalConfig represents the top-level global static configuration.
// Maps to the `sip-gateway:` root key in YAML.
type GlobalConfig struct {
	Node    NodeConfig    `mapstructure:"node"`
	Control ControlConfig `mapstructure:"control"`
	SIP     SIPConfig     `mapstructure:"sip"`
	GRPC    GRPCConfig    `mapstructure:"grpc"`
	Mapping MappingConfig `mapstructure:"mapping"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Trace   TraceConfig   `mapstructure:"trace"`
	APM     APMConfig     `mapstructure:"apm"`
	Log     LogConfig     `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	IP       string            `mapstructure:"ip"`       // Empty = auto-detect
	Hostname string            `mapstructure:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── SIP Transport ───

// SIPConfig configures the SIP listeners. At least one of the listen
// addresses must be set.
type SIPConfig struct {
	ListenUDP       string `mapstructure:"listen_udp"`
	ListenTCP       string `mapstructure:"listen_tcp"`
	MaxMessageBytes int    `mapstructure:"max_message_bytes"`
}

// ─── gRPC Backends ───

// GRPCConfig configures the backend endpoint table and call behaviour.
type GRPCConfig struct {
	Endpoints   []endpoint.Endpoint `mapstructure:"endpoints"`
	CallTimeout string              `mapstructure:"call_timeout"`
}

// CallTimeoutDuration returns the parsed per-call timeout.
func (c GRPCConfig) CallTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.CallTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ─── Mapping Rules ───

// MappingConfig holds the declarative translation rule set. Rules may be
// written inline or in a separate file referenced by rules_file; inline
// rules are appended after the file's rules.
type MappingConfig struct {
	OnMissing string                       `mapstructure:"on_missing"`
	RulesFile string                       `mapstructure:"rules_file"`
	SIPToGRPC []mapping.RequestRuleConfig  `mapstructure:"sip_to_grpc"`
	GRPCToSIP []mapping.ResponseRuleConfig `mapstructure:"grpc_to_sip"`
}

// ─── Admin API ───

// AdminConfig configures the administrative HTTP API.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Protocol Trace ───

// TraceConfig configures on-demand PCAP capture of translated exchanges.
type TraceConfig struct {
	Dir     string `mapstructure:"dir"`
	SnapLen int    `mapstructure:"snap_len"`
}

// ─── APM Reporting ───

// APMConfig configures SkyWalking trace segment reporting.
type APMConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"` // OAP collector address
	Service  string `mapstructure:"service"`
	Instance string `mapstructure:"instance"` // Empty = hostname@ip
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
	Loki LokiOutputConfig `mapstructure:"loki"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Endpoint     string            `mapstructure:"endpoint"`
	Labels       map[string]string `mapstructure:"labels"`
	BatchSize    int               `mapstructure:"batch_size"`
	BatchTimeout string            `mapstructure:"batch_timeout"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `sip-gateway: ...`.
type configRoot struct {
	SIPGateway GlobalConfig `mapstructure:"sip-gateway"`
}

// Load loads configuration from file.
// The YAML file uses `sip-gateway:` as root key; env vars use the
// SIP_GATEWAY_ prefix (e.g., SIP_GATEWAY_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variable overrides. The `sip-gateway.` key prefix maps to
	// SIP_GATEWAY_ via the key replacer (key "sip-gateway.log.level" →
	// env "SIP_GATEWAY_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.SIPGateway

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "sip-gateway." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Control defaults
	v.SetDefault("sip-gateway.control.pid_file", "/var/run/sipgw.pid")
	v.SetDefault("sip-gateway.control.socket", "/var/run/sipgw.sock")

	// SIP transport defaults
	v.SetDefault("sip-gateway.sip.listen_udp", ":5060")
	v.SetDefault("sip-gateway.sip.max_message_bytes", 65535)

	// gRPC defaults
	v.SetDefault("sip-gateway.grpc.call_timeout", "5s")

	// Admin API defaults
	v.SetDefault("sip-gateway.admin.enabled", true)
	v.SetDefault("sip-gateway.admin.listen", "127.0.0.1:8080")

	// Log defaults
	v.SetDefault("sip-gateway.log.level", "info")
	v.SetDefault("sip-gateway.log.format", "json")
	v.SetDefault("sip-gateway.log.outputs.file.enabled", false)
	v.SetDefault("sip-gateway.log.outputs.file.path", "/var/log/sipgw/sipgw.log")
	v.SetDefault("sip-gateway.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("sip-gateway.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("sip-gateway.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("sip-gateway.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("sip-gateway.metrics.enabled", true)
	v.SetDefault("sip-gateway.metrics.listen", ":9091")
	v.SetDefault("sip-gateway.metrics.path", "/metrics")

	// Trace defaults
	v.SetDefault("sip-gateway.trace.dir", "/var/lib/sipgw/traces")
	v.SetDefault("sip-gateway.trace.snap_len", 65535)

	// APM defaults
	v.SetDefault("sip-gateway.apm.enabled", false)
	v.SetDefault("sip-gateway.apm.service", "sip-grpc-gateway")
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults such as hostname and node IP resolution.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── SIP transport validation ──
	if cfg.SIP.ListenUDP == "" && cfg.SIP.ListenTCP == "" {
		return fmt.Errorf("sip: at least one of listen_udp/listen_tcp is required")
	}

	// ── gRPC validation ──
	if _, err := time.ParseDuration(cfg.GRPC.CallTimeout); err != nil {
		return fmt.Errorf("invalid grpc.call_timeout: %w", err)
	}
	seen := make(map[string]bool, len(cfg.GRPC.Endpoints))
	for _, ep := range cfg.GRPC.Endpoints {
		if ep.Name == "" || ep.Host == "" || ep.Port == 0 || ep.Service == "" {
			return fmt.Errorf("grpc.endpoints: entry %q: name, host, port and service are required", ep.Name)
		}
		if seen[ep.Name] {
			return fmt.Errorf("grpc.endpoints: duplicate name %q", ep.Name)
		}
		seen[ep.Name] = true
	}

	// ── Mapping validation ──
	if _, err := mapping.ParseMissingPolicy(cfg.Mapping.OnMissing); err != nil {
		return fmt.Errorf("mapping: %w", err)
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Node IP resolution ──
	resolvedIP, err := resolveNodeIP(&cfg.Node)
	if err != nil {
		return err
	}
	cfg.Node.IP = resolvedIP

	// ── APM instance name ──
	if cfg.APM.Enabled {
		if cfg.APM.Endpoint == "" {
			return fmt.Errorf("apm.endpoint is required when apm.enabled=true")
		}
		if cfg.APM.Instance == "" {
			cfg.APM.Instance = cfg.Node.Hostname + "@" + cfg.Node.IP
		}
	}

	return nil
}

// resolveNodeIP resolves the node IP address.
// Priority: env/config explicit value → auto-detect → error.
func resolveNodeIP(node *NodeConfig) (string, error) {
	// 1. Explicit value from config/env (Viper already merged)
	if node.IP != "" {
		return node.IP, nil
	}

	// 2. Auto-detect: first non-loopback, non-link-local IPv4
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("cannot resolve node IP: failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			// Skip link-local 169.254.x.x
			if ip4[0] == 169 && ip4[1] == 254 {
				continue
			}
			return ip4.String(), nil
		}
	}

	return "", fmt.Errorf("cannot resolve node IP: set SIP_GATEWAY_NODE_IP or sip-gateway.node.ip")
}
