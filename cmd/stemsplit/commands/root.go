package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/stemsplit/pkg/cli"
)

var (
	// Global flags
	cfgFile     string
	contextName string
	modelsDir   string
	outputJSON  bool
	verbose     bool

	// Global configuration
	globalConfig *cli.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stemsplit",
	Short: "Split music into stems with ONNX separation models",
	Long: `stemsplit - music source separation on ONNX Runtime.

Runs Demucs and Spleeter family models over a WAV file and writes one WAV
per stem (vocals, drums, bass, ...) to a local directory or an S3 bucket.

Configuration is stored in ~/.stemsplit/ and supports multiple contexts,
similar to kubectl's context management.

Examples:
  # List the models and whether their files are present
  stemsplit models

  # Separate a song with the default model
  stemsplit separate song.wav

  # Use Spleeter and write stems to S3
  stemsplit separate -m spleeter:4stems --s3-bucket my-stems song.wav

  # Keep studio settings in a context
  stemsplit config add-context studio --models-dir ~/models --parallel 4
  stemsplit -c studio separate song.wav
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.stemsplit/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().StringVar(&modelsDir, "models-dir", "", "model directory (default: context setting or ./models)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(separateCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	globalConfig, err = cli.LoadConfig(cfgFile)
	if err != nil {
		// Commands fall back to the built-in defaults.
		fmt.Fprintf(os.Stderr, "Warning: config: %v\n", err)
	}
}

// getConfig returns the global configuration
func getConfig() (*cli.Config, error) {
	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return globalConfig, nil
}

// getContext returns the context configuration to use. Without a config
// file it returns an empty default context.
func getContext() (*cli.Context, error) {
	if globalConfig == nil {
		if contextName != "" {
			return nil, fmt.Errorf("configuration not initialized")
		}
		return &cli.Context{Name: cli.DefaultContextName}, nil
	}
	return globalConfig.ResolveContext(contextName)
}

// outputResult prints result as YAML, JSON with --json, or as a table when
// the result is a cli.Tabler.
func outputResult(result any) error {
	format := cli.FormatYAML
	if _, ok := result.(cli.Tabler); ok {
		format = cli.FormatTable
	}
	if outputJSON {
		format = cli.FormatJSON
	}
	return cli.Output(result, cli.OutputOptions{Format: format})
}

// printVerbose prints verbose output if enabled
func printVerbose(format string, args ...any) {
	cli.PrintVerbose(verbose, format, args...)
}
