package commands

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/stemsplit/pkg/cli"
	"github.com/haivivi/stemsplit/pkg/separation/registry"
)

var modelsCatalogTemplate bool

var modelsCmd = &cobra.Command{
	Use:     "models",
	Aliases: []string{"list-models"},
	Short:   "List the model catalog",
	Long: `List every model the registry knows, its aliases and stems, and whether
its file is present in the model directory.

Names and aliases are case-insensitive; any of them works with -m.

With --catalog-template the effective catalog is printed as a catalog file,
ready to edit and point a context at with --catalog.`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsCatalogTemplate, "catalog-template", false, "print the catalog as an editable catalog file")
}

// modelInfo is one row of the models listing.
type modelInfo struct {
	Name    string   `json:"name" yaml:"name"`
	File    string   `json:"file" yaml:"file"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Stems   []string `json:"stems,omitempty" yaml:"stems,omitempty"`
	Rate    int      `json:"sample_rate" yaml:"sample_rate"`
	Default bool     `json:"default,omitempty" yaml:"default,omitempty"`
	Present bool     `json:"present" yaml:"present"`
	Size    int64    `json:"size,omitempty" yaml:"size,omitempty"`
}

type modelList []modelInfo

func (l modelList) Table() cli.Table {
	t := cli.Table{Headers: []string{"NAME", "FILE", "ALIASES", "STEMS", "RATE", "SIZE"}}
	for _, m := range l {
		name := m.Name
		if m.Default {
			name += " *"
		}
		size := "missing"
		if m.Present {
			size = cli.FormatBytes(m.Size)
		}
		stems := strings.Join(m.Stems, ",")
		if stems == "" {
			stems = "(from model)"
		}
		rate := "input"
		if m.Rate > 0 {
			rate = cli.FormatRate(m.Rate)
		}
		t.Rows = append(t.Rows, []string{
			name, m.File, cli.Truncate(strings.Join(m.Aliases, ","), 40), stems, rate, size,
		})
	}
	return t
}

func runModels(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if modelsCatalogTemplate {
		data, err := registry.MarshalCatalog(rt.reg.Entries())
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	def := rt.reg.Default().Name
	if name := rt.ctx.DefaultModel; name != "" {
		if e, ok := rt.reg.Lookup(name); ok {
			def = e.Name
		}
	}

	var list modelList
	for _, e := range rt.reg.Entries() {
		size, present := rt.modelSize(e)
		list = append(list, modelInfo{
			Name:    e.Name,
			File:    rt.reg.Path(e),
			Aliases: e.Aliases,
			Stems:   e.Profile.Stems,
			Rate:    e.Profile.SampleRate,
			Default: e.Name == def,
			Present: present,
			Size:    size,
		})
	}
	printVerbose("Model directory: %s (%d models)", rt.reg.Dir(), len(list))
	return outputResult(list)
}
