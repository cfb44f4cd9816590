// Package main is the entry point for the svcport service-port runner.
package main

import (
	"fmt"
	"os"

	"icc.tech/svcport/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
