package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ggoodman/mcp-stdio-bridge/stdio"
)

var version = "dev"

func main() {
	if err := newRootCmd(version).Execute(); err != nil {
		var exitErr *stdio.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "MCP %s\n", exitErr)
			os.Exit(exitErr.ExitStatus())
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
