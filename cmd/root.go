// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sipgw",
	Short: "sipgw - Declarative SIP to gRPC protocol gateway",
	Long: `sipgw bridges SIP clients and gRPC backends through a declarative
mapping rule table: inbound SIP requests are translated into gRPC calls,
and the responses are translated back into SIP responses.

Features:
  - Rule-driven bidirectional translation, no per-service code generation
  - Named backend endpoints, manageable at runtime
  - Hot rule reload via SIGHUP or the control socket
  - Admin HTTP API with on-demand PCAP tracing of translated exchanges
  - Prometheus metrics and optional SkyWalking trace reporting`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/sipgw/config.yaml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/sipgw.sock",
		"daemon control socket path")
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
