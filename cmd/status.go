package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"icc.tech/sip-grpc-gateway/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the sipgw daemon for its overall status.

Shows: version, uptime and the configured backend endpoints.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStatusCommand()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatusCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		exitWithError("daemon is not running or socket is inaccessible", err)
	}

	resp, err := client.DaemonStatus(ctx)
	if err != nil {
		exitWithError("failed to query daemon status", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("daemon_status failed: %s", resp.Error.Message), nil)
	}

	printResult(resp.Result)
}

// printResult pretty-prints a control socket result payload.
func printResult(result interface{}) {
	resultJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		exitWithError("failed to format result", err)
	}
	fmt.Println(string(resultJSON))
}
