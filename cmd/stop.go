package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"icc.tech/sip-grpc-gateway/internal/command"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the sipgw daemon",
	Long: `Stop the sipgw daemon gracefully.

This command sends a shutdown request to the running daemon via the control
socket. The daemon drains in-flight calls, closes its listeners and exits.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStopCommand()
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStopCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		exitWithError("daemon is not running or socket is inaccessible", err)
	}

	resp, err := client.DaemonShutdown(ctx)
	if err != nil {
		exitWithError("failed to send shutdown command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("daemon_shutdown failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("Shutdown initiated.")
}
