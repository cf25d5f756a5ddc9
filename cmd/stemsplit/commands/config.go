package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/stemsplit/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage stemsplit configuration.

Configuration is stored in ~/.stemsplit/config.yaml.
Multiple contexts can be defined for different model sets or outputs.`,
}

// addContextFlags maps add-context flags to context settings.
var addContextFlags = []struct {
	flag, key, usage string
}{
	{"catalog", "catalog", "YAML model catalog replacing the built-in one"},
	{"default-model", "default_model", "model used when -m is not given"},
	{"parallel", "parallelism", "windows inferred at once"},
	{"threads", "intra_op_threads", "ONNX Runtime threads per inference"},
	{"cache-dir", "cache.dir", "result cache directory"},
	{"cache-ttl", "cache.ttl", "expire cached results after this duration, e.g. 72h"},
	{"out", "output.dir", "local output directory"},
	{"s3-bucket", "output.bucket", "write stems to this S3 bucket"},
	{"s3-prefix", "output.prefix", "S3 key prefix"},
	{"s3-region", "output.region", "S3 region"},
	{"s3-endpoint", "output.endpoint", "S3-compatible endpoint URL"},
	{"bit-depth", "output.bit_depth", "WAV bit depth"},
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add a new context",
	Long: `Add a new context, replacing any context of the same name.

Examples:
  stemsplit config add-context studio --models-dir ~/models --parallel 4
  stemsplit config add-context cloud --s3-bucket stems --s3-region eu-west-1
  stemsplit config add-context minio --s3-bucket stems --s3-endpoint http://localhost:9000 --s3-path-style`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		name := args[0]
		ctx := &cli.Context{Name: name, ModelsDir: modelsDir}

		for _, f := range addContextFlags {
			if !cmd.Flags().Changed(f.flag) {
				continue
			}
			v, _ := cmd.Flags().GetString(f.flag)
			if err := ctx.Set(f.key, v); err != nil {
				return err
			}
		}
		if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
			ctx.Set("cache.disabled", "true")
		}
		if pathStyle, _ := cmd.Flags().GetBool("s3-path-style"); pathStyle {
			ctx.Set("output.path_style", "true")
		}

		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}
		cli.PrintSuccess("Context '%s' added successfully", name)
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Context '%s' deleted", args[0])
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the default context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Switched to context '%s'", args[0])
		return nil
	},
}

var configGetContextCmd = &cobra.Command{
	Use:   "get-context [name]",
	Short: "Show a context (default: the current one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		name := cfg.CurrentContext
		if len(args) > 0 {
			name = args[0]
		}
		if name == "" {
			fmt.Println("No current context set")
			return nil
		}
		ctx, err := cfg.GetContext(name)
		if err != nil {
			return err
		}
		return outputResult(ctx.Masked())
	},
}

var configListContextsCmd = &cobra.Command{
	Use:   "list-contexts",
	Short: "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		names := cfg.ListContexts()
		if len(names) == 0 {
			fmt.Println("No contexts configured")
			return nil
		}
		for _, name := range names {
			marker := "  "
			if name == cfg.CurrentContext {
				marker = "* "
			}
			fmt.Printf("%s%s\n", marker, name)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting of the current context",
	Long: `Change one setting of the current context, or of the context given with -c.

Keys:
  ` + strings.Join(cli.Keys, "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		name := contextName
		if name == "" {
			name = cfg.CurrentContext
		}
		if name == "" {
			return fmt.Errorf("no context specified. Use -c flag or set a default context with 'stemsplit config use-context'")
		}
		ctx, err := cfg.GetContext(name)
		if err != nil {
			return err
		}
		if err := ctx.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		cli.PrintSuccess("Set %s in context '%s'", args[0], name)
		return nil
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View full configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		view := cli.Config{CurrentContext: cfg.CurrentContext, Contexts: make(map[string]*cli.Context)}
		for name, ctx := range cfg.Contexts {
			view.Contexts[name] = ctx.Masked()
		}
		return outputResult(view)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		fmt.Println(cfg.Path())
		return nil
	},
}

func init() {
	for _, f := range addContextFlags {
		configAddContextCmd.Flags().String(f.flag, "", f.usage)
	}
	configAddContextCmd.Flags().Bool("no-cache", false, "disable the result cache")
	configAddContextCmd.Flags().Bool("s3-path-style", false, "use path-style S3 addressing")

	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configGetContextCmd)
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configPathCmd)
}
