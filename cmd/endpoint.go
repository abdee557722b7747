package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"icc.tech/sip-grpc-gateway/internal/command"
	"icc.tech/sip-grpc-gateway/internal/endpoint"
)

var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Manage backend endpoints on the running daemon",
}

var endpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured endpoints",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := controlClient().EndpointList(context.Background())
		if err != nil {
			exitWithError("failed to list endpoints", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("endpoint_list failed: %s", resp.Error.Message), nil)
		}
		printResult(resp.Result)
	},
}

var (
	epName    string
	epHost    string
	epPort    int
	epService string
	epTLS     bool
)

var endpointAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a backend endpoint",
	Long: `Add a named backend endpoint to the running daemon.

The endpoint becomes visible to subsequent calls immediately; in-flight
translations keep the endpoint snapshot they started with.

Examples:
  sipgw endpoint add --name media --host 10.0.0.5 --port 50051 --service media.MediaService`,
	Run: func(cmd *cobra.Command, args []string) {
		ep := endpoint.Endpoint{
			Name:    epName,
			Host:    epHost,
			Port:    epPort,
			Service: epService,
			UseTLS:  epTLS,
		}
		resp, err := controlClient().EndpointAdd(context.Background(), ep)
		if err != nil {
			exitWithError("failed to add endpoint", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("endpoint_add failed: %s", resp.Error.Message), nil)
		}
		fmt.Printf("Endpoint %q added.\n", epName)
	},
}

var endpointRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a backend endpoint",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := controlClient().EndpointRemove(context.Background(), args[0])
		if err != nil {
			exitWithError("failed to remove endpoint", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("endpoint_remove failed: %s", resp.Error.Message), nil)
		}
		fmt.Printf("Endpoint %q removed.\n", args[0])
	},
}

func init() {
	endpointAddCmd.Flags().StringVar(&epName, "name", "", "endpoint name (required)")
	endpointAddCmd.Flags().StringVar(&epHost, "host", "", "backend host (required)")
	endpointAddCmd.Flags().IntVar(&epPort, "port", 0, "backend port (required)")
	endpointAddCmd.Flags().StringVar(&epService, "service", "", "fully qualified gRPC service (required)")
	endpointAddCmd.Flags().BoolVar(&epTLS, "tls", false, "dial the backend with TLS")
	endpointAddCmd.MarkFlagRequired("name")
	endpointAddCmd.MarkFlagRequired("host")
	endpointAddCmd.MarkFlagRequired("port")
	endpointAddCmd.MarkFlagRequired("service")

	endpointCmd.AddCommand(endpointListCmd)
	endpointCmd.AddCommand(endpointAddCmd)
	endpointCmd.AddCommand(endpointRemoveCmd)
	rootCmd.AddCommand(endpointCmd)
}

func controlClient() *command.UDSClient {
	return command.NewUDSClient(socketPath, 10*time.Second)
}
