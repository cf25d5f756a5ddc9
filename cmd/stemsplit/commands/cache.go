package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/stemsplit/pkg/cli"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache",
	Long: `Manage the separation result cache.

Separated stems are cached by model and input content in a BadgerDB
directory (default: ~/.stemsplit/cache).`,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge [model]",
	Short: "Remove cached results",
	Long: `Remove cached results of one model, or of every model when no model is
given. The model may be given by any name or alias.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		model := ""
		if len(args) > 0 {
			e, ok := rt.reg.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown model %q, see 'stemsplit models'", args[0])
			}
			model = e.Name
		}

		cache, err := rt.openCache(false)
		if err != nil {
			return err
		}
		if cache == nil {
			return fmt.Errorf("cache is disabled in context %q", rt.ctx.Name)
		}
		defer cache.Close()

		n, err := cache.Purge(cmd.Context(), model)
		if err != nil {
			return err
		}
		if model == "" {
			cli.PrintSuccess("Purged %d cached results", n)
		} else {
			cli.PrintSuccess("Purged %d cached results of %s", n, model)
		}
		return nil
	},
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the cache directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()
		fmt.Println(rt.cacheDir())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
	cacheCmd.AddCommand(cachePathCmd)
}
