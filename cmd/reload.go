package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"icc.tech/sip-grpc-gateway/internal/command"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the mapping rules and logging configuration",
	Long: `Ask the running daemon to re-read its configuration file.

The mapping rule table is recompiled and swapped atomically; in-flight calls
finish against the rules they started with. A broken rule set is rejected and
the installed table stays in effect.`,
	Run: func(cmd *cobra.Command, args []string) {
		runReloadCommand()
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}

func runReloadCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.ConfigReload(ctx)
	if err != nil {
		exitWithError("failed to send reload command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("config_reload failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("Configuration reloaded.")
}
