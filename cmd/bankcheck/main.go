// Package main provides the bankcheck command.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/kidandcat/bankcheck/internal/cli"
)

// Build information set via ldflags
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		if !errors.Is(err, cli.ErrCasesFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
