// ./main.go
package main

import (
	"github.com/xkilldash9x/loopsmith/cmd"
	"github.com/xkilldash9x/loopsmith/internal/observability"
)

// main is the entry point for the loopsmith daemon and CLI.
func main() {
	// Execute the root command defined in the cmd package. This handles
	// all command-line parsing, configuration, and execution.
	defer observability.Sync()
	cmd.Execute()
}
