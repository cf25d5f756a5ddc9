// Package cli provides common utilities for the stemsplit command.
//
// This package includes:
//   - Configuration management (contexts, similar to kubectl)
//   - Output formatting (YAML, JSON, table)
//   - Terminal styling and progress bars (lipgloss)
//
// Configuration is stored in ~/.stemsplit/config.yaml:
//
//	current_context: studio
//	contexts:
//	  studio:
//	    name: studio
//	    models_dir: ~/models
//	    parallelism: 4
//	    output:
//	      bucket: my-stems
//	      region: us-east-1
//
// Example usage:
//
//	cfg, err := cli.LoadConfig("")
//	ctx, err := cfg.ResolveContext("")
//	cli.Output(result, cli.OutputOptions{Format: cli.FormatTable})
package cli
