package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"icc.tech/sip-grpc-gateway/internal/config"
	"icc.tech/sip-grpc-gateway/internal/mapping"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a sipgw configuration file without starting the daemon.

Loads the configuration, assembles the mapping rules (including any external
rules_file) and compiles the full table, reporting the first error found.

Examples:
  sipgw validate -c /etc/sipgw/config.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		summary, err := runValidateConfig(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(summary)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidateConfig(path string) (string, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return "", err
	}

	tableCfg, err := cfg.Mapping.TableConfig()
	if err != nil {
		return "", err
	}
	table, err := mapping.NewTable(tableCfg)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("VALID: %d endpoint(s), %d request rule(s), %d response rule(s)",
		len(cfg.GRPC.Endpoints),
		len(table.RequestRules()),
		len(table.ResponseRules()),
	), nil
}
