package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Show the installed mapping rule table",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := controlClient().MappingList(context.Background())
		if err != nil {
			exitWithError("failed to list mappings", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("mapping_list failed: %s", resp.Error.Message), nil)
		}
		printResult(resp.Result)
	},
}

func init() {
	rootCmd.AddCommand(mappingsCmd)
}
