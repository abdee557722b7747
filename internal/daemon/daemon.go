// Package daemon implements the gateway daemon lifecycle: configuration
// load, component assembly, signal handling and graceful shutdown.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"icc.tech/sip-grpc-gateway/internal/admin"
	"icc.tech/sip-grpc-gateway/internal/apm"
	"icc.tech/sip-grpc-gateway/internal/command"
	"icc.tech/sip-grpc-gateway/internal/config"
	"icc.tech/sip-grpc-gateway/internal/endpoint"
	"icc.tech/sip-grpc-gateway/internal/gateway"
	logpkg "icc.tech/sip-grpc-gateway/internal/log"
	"icc.tech/sip-grpc-gateway/internal/mapping"
	"icc.tech/sip-grpc-gateway/internal/metrics"
	"icc.tech/sip-grpc-gateway/internal/rpc"
	"icc.tech/sip-grpc-gateway/internal/trace"
	"icc.tech/sip-grpc-gateway/internal/transport"
)

// Daemon manages the sip-grpc-gateway daemon process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	engine        *mapping.Engine
	rpcClient     rpc.Invoker
	tracer        *trace.Manager
	reporter      apm.Reporter
	udpServer     *transport.UDPServer
	tcpServer     *transport.TCPServer
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled
	adminServer   *admin.Server   // nil if admin API disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal // promoted from Run() local for cleanup in Stop()
}

// New creates a new Daemon instance. Empty socketPath and pidFile fall back
// to the control section of the loaded configuration.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	slog.Info("starting sip-grpc-gateway daemon",
		"version", command.Version,
		"hostname", d.config.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Build translation engine: endpoint registry + compiled rule table
	engine, err := buildEngine(d.config)
	if err != nil {
		return err
	}
	d.engine = engine
	metrics.EndpointsConfigured.Set(float64(len(d.config.GRPC.Endpoints)))

	// 4. Backend RPC client
	d.rpcClient = rpc.NewClient(d.config.GRPC.CallTimeoutDuration())

	// 5. Protocol tracer (idle until started via admin API)
	d.tracer = trace.NewManager(d.config.Trace.Dir, d.config.Trace.SnapLen)

	// 6. APM reporter
	if err := d.initAPM(); err != nil {
		return err
	}

	// 7. SIP transports serving the gateway pipeline
	gw := gateway.New(d.engine, d.rpcClient, d.tracer, d.reporter, d.config.Node.IP)
	if err := d.startTransports(gw); err != nil {
		return err
	}

	// 8. Metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 9. Admin HTTP API
	if err := d.startAdmin(); err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}

	// 10. Control socket for CLI
	d.cmdHandler = command.NewCommandHandler(d.engine, d)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		close(d.shutdownChan)
	})
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("control socket failed", "error", err)
		}
	}()

	slog.Info("daemon started successfully")
	return nil
}

// buildEngine assembles the endpoint registry and rule table from config.
func buildEngine(cfg *config.GlobalConfig) (*mapping.Engine, error) {
	registry, err := endpoint.NewRegistry(cfg.GRPC.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to build endpoint registry: %w", err)
	}

	tableCfg, err := cfg.Mapping.TableConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to assemble mapping rules: %w", err)
	}
	table, err := mapping.NewTable(tableCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to compile mapping rules: %w", err)
	}

	return mapping.NewEngine(table, registry), nil
}

// Stop performs graceful shutdown of all daemon components.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop transports first: no new SIP requests
	if d.udpServer != nil {
		d.udpServer.Stop()
	}
	if d.tcpServer != nil {
		d.tcpServer.Stop()
	}

	// 2. Stop control socket (no new CLI commands)
	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	// 3. Stop admin server
	if d.adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.adminServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping admin server", "error", err)
		}
		cancel()
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		cancel()
	}

	// 5. Close an active trace session so the capture file is complete
	if d.tracer != nil {
		if info, ok := d.tracer.Active(); ok {
			if _, err := d.tracer.Stop(info.ID); err != nil {
				slog.Error("error stopping trace session", "error", err)
			}
		}
	}

	// 6. Release backend connections and the APM stream
	if d.rpcClient != nil {
		if err := d.rpcClient.Close(); err != nil {
			slog.Error("error closing backend connections", "error", err)
		}
	}
	if d.reporter != nil {
		if err := d.reporter.Close(); err != nil {
			slog.Error("error closing apm reporter", "error", err)
		}
	}

	// 7. Cancel context to signal all goroutines
	d.cancel()

	// 8. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 9. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via the control socket
//  3. SIGHUP triggers config reload
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				} else {
					slog.Info("configuration reloaded successfully")
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration and hot-swaps what can change at
// runtime: the mapping rule table and the log level/format. In-flight
// translations finish against the table they pinned at entry.
// Cold (requires restart): listen addresses, endpoint list, control socket.
// Implements command.ConfigReloader.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}

	// 1. Recompile and swap the rule table. All-or-nothing: a broken rule
	// set leaves the installed table untouched.
	tableCfg, err := newConfig.Mapping.TableConfig()
	if err != nil {
		return fmt.Errorf("failed to assemble mapping rules: %w", err)
	}
	table, err := mapping.NewTable(tableCfg)
	if err != nil {
		return fmt.Errorf("failed to compile mapping rules: %w", err)
	}
	d.engine.ReplaceTable(table)
	hotReloaded = append(hotReloaded, "mapping")

	// 2. Re-initialize logging with new config (log level + format)
	oldLevel := d.config.Log.Level
	oldFormat := d.config.Log.Format
	d.config = newConfig
	if err := d.initLogging(); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
		// Non-fatal: old logging continues
	} else if newConfig.Log.Level != oldLevel || newConfig.Log.Format != oldFormat {
		hotReloaded = append(hotReloaded, "log")
	}

	slog.Info("configuration reloaded", "hot_reloaded", hotReloaded)
	return nil
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log, d.config.Node); err != nil {
		return err
	}

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// initAPM creates the APM reporter, or a no-op one when disabled.
func (d *Daemon) initAPM() error {
	if !d.config.APM.Enabled {
		d.reporter = apm.NewNoop()
		return nil
	}

	reporter, err := apm.NewSkyWalking(d.config.APM.Endpoint, d.config.APM.Service, d.config.APM.Instance)
	if err != nil {
		return fmt.Errorf("failed to start apm reporter: %w", err)
	}
	d.reporter = reporter

	slog.Info("apm reporting enabled",
		"collector", d.config.APM.Endpoint,
		"service", d.config.APM.Service,
		"instance", d.config.APM.Instance,
	)
	return nil
}

// startTransports starts the configured SIP listeners.
func (d *Daemon) startTransports(gw *gateway.Gateway) error {
	if d.config.SIP.ListenUDP != "" {
		d.udpServer = transport.NewUDPServer(d.config.SIP.ListenUDP, d.config.SIP.MaxMessageBytes, gw)
		go func() {
			if err := d.udpServer.Start(d.ctx); err != nil && err != context.Canceled {
				slog.Error("sip udp listener failed", "error", err)
			}
		}()
	}
	if d.config.SIP.ListenTCP != "" {
		d.tcpServer = transport.NewTCPServer(d.config.SIP.ListenTCP, d.config.SIP.MaxMessageBytes, gw)
		go func() {
			if err := d.tcpServer.Start(d.ctx); err != nil && err != context.Canceled {
				slog.Error("sip tcp listener failed", "error", err)
			}
		}()
	}
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path, metrics.Registry)
	return d.metricsServer.Start(d.ctx)
}

// startAdmin starts the administrative HTTP API if enabled.
func (d *Daemon) startAdmin() error {
	if !d.config.Admin.Enabled {
		slog.Info("admin server disabled")
		return nil
	}

	d.adminServer = admin.NewServer(d.config.Admin.Listen, d.engine, d.tracer, func() any {
		return d.config
	})
	return d.adminServer.Start(d.ctx)
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
