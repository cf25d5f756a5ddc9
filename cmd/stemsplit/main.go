// Package main provides the stemsplit CLI tool.
//
// Usage:
//
//	stemsplit [flags] <command> [args]
//
// Commands:
//
//	separate - split a WAV file into stems
//	models   - list the model catalog
//	inspect  - show how a model binds to the runtime
//	cache    - manage the result cache
//	config   - configuration management
//
// Configuration:
//
//	The CLI stores configuration in ~/.stemsplit/
//	Use 'stemsplit config' commands to manage contexts.
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/stemsplit/cmd/stemsplit/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
