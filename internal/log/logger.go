// Package log wires the process-wide slog logger to the configured outputs:
// stdout, a rotated file, and optionally a Grafana Loki push stream.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"icc.tech/sip-grpc-gateway/internal/config"
)

// Init builds and installs the global logger. Node identity feeds the
// default Loki stream labels so every line is attributable to the gateway
// node that emitted it.
func Init(cfg config.LogConfig, node config.NodeConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	out, err := buildOutput(cfg.Outputs, node)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		return fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// buildOutput assembles the output writer. Stdout is always included.
func buildOutput(outs config.LogOutputsConfig, node config.NodeConfig) (io.Writer, error) {
	writers := []io.Writer{os.Stdout}

	if outs.File.Enabled {
		w, err := newFileWriter(outs.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, w)
	}

	if outs.Loki.Enabled {
		if outs.Loki.Endpoint == "" {
			return nil, fmt.Errorf("loki output requires 'endpoint' field")
		}
		w, err := NewLokiWriter(LokiConfig{
			Endpoint:      outs.Loki.Endpoint,
			Labels:        lokiStreamLabels(outs.Loki, node),
			BatchSize:     outs.Loki.BatchSize,
			FlushInterval: outs.Loki.BatchTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create loki output: %w", err)
		}
		writers = append(writers, w)
	}

	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

// lokiStreamLabels derives the Loki stream labels. The node identity
// provides the defaults; labels from the configuration win on conflict.
func lokiStreamLabels(lc config.LokiOutputConfig, node config.NodeConfig) map[string]string {
	labels := map[string]string{"job": "sipgw"}
	if node.Hostname != "" {
		labels["host"] = node.Hostname
	}
	if node.IP != "" {
		labels["node_ip"] = node.IP
	}
	for k, v := range lc.Labels {
		labels[k] = v
	}
	return labels
}

// parseLevel converts a configured level string to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// newFileWriter creates a size-rotated file writer.
func newFileWriter(fc config.FileOutputConfig) (io.Writer, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
