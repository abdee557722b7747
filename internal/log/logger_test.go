package log

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icc.tech/sip-grpc-gateway/internal/config"
)

func TestParseLevel(t *testing.T) {
	valid := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
	}
	for input, expected := range valid {
		level, err := parseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, level, input)
	}

	for _, input := range []string{"invalid", "trace", "fatal", ""} {
		_, err := parseLevel(input)
		assert.Error(t, err, input)
	}
}

func TestInitStdoutOnly(t *testing.T) {
	cfg := config.LogConfig{Level: "info", Format: "json"}
	require.NoError(t, Init(cfg, config.NodeConfig{}))
	require.NotNil(t, slog.Default())
}

func TestInitWithFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "gateway.log")
	cfg := config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  10,
					MaxBackups: 3,
					MaxAgeDays: 7,
					Compress:   true,
				},
			},
		},
	}

	require.NoError(t, Init(cfg, config.NodeConfig{Hostname: "gw1"}))
	slog.Info("translation installed", "rules", 4)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "translation installed")
}

func TestInitRejectsBadConfig(t *testing.T) {
	err := Init(config.LogConfig{Level: "loud", Format: "json"}, config.NodeConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	err = Init(config.LogConfig{Level: "info", Format: "xml"}, config.NodeConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format")

	err = Init(config.LogConfig{
		Level:  "info",
		Format: "json",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{Enabled: true}, // no path
		},
	}, config.NodeConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")

	err = Init(config.LogConfig{
		Level:  "info",
		Format: "json",
		Outputs: config.LogOutputsConfig{
			Loki: config.LokiOutputConfig{Enabled: true}, // no endpoint
		},
	}, config.NodeConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestLokiStreamLabelsFromNode(t *testing.T) {
	labels := lokiStreamLabels(
		config.LokiOutputConfig{},
		config.NodeConfig{Hostname: "gw1", IP: "10.0.0.9"},
	)
	assert.Equal(t, "sipgw", labels["job"])
	assert.Equal(t, "gw1", labels["host"])
	assert.Equal(t, "10.0.0.9", labels["node_ip"])

	// Configured labels override the node-derived defaults.
	labels = lokiStreamLabels(
		config.LokiOutputConfig{Labels: map[string]string{"job": "edge", "env": "dev"}},
		config.NodeConfig{Hostname: "gw1"},
	)
	assert.Equal(t, "edge", labels["job"])
	assert.Equal(t, "dev", labels["env"])
	assert.Equal(t, "gw1", labels["host"])
	assert.NotContains(t, labels, "node_ip")
}

func TestNewFileWriter(t *testing.T) {
	fc := config.FileOutputConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "gateway.log"),
		Rotation: config.RotationConfig{
			MaxSizeMB: 10,
		},
	}

	writer, err := newFileWriter(fc)
	require.NoError(t, err)

	n, err := writer.Write([]byte("line\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	data, err := os.ReadFile(fc.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "line\n"))
}
