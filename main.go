// Package main is the entry point for the sipgw protocol gateway.
package main

import (
	"fmt"
	"os"

	"icc.tech/sip-grpc-gateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
