package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"icc.tech/sip-grpc-gateway/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Aliases: []string{"start"},
	Short:   "Run the sipgw daemon in foreground",
	Long: `Run the sipgw daemon process in foreground.

The daemon will:
  1. Load global configuration from the config file
  2. Initialize logging and metrics
  3. Compile the mapping rule table and build the endpoint registry
  4. Start the SIP listeners, admin API and control socket
  5. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			slog.Error("daemon failed", "error", err)
			os.Exit(1)
		}
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file from config)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon() error {
	fmt.Println("Starting sipgw daemon...")
	fmt.Printf("Config: %s\n", configFile)
	fmt.Printf("Socket: %s\n", socketPath)

	d, err := daemon.New(configFile, socketPath, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
