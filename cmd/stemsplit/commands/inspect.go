package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/stemsplit/pkg/separation/inference"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [model]",
	Short: "Load a model and show how it binds",
	Long: `Load a model through ONNX Runtime and print its tensor signature, the
resolved window and hop, and the stems it produces.

A model that fails to load is reported with the reason rather than as a
command failure, so inspect can diagnose missing or incompatible files.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

// inspectResult is the output of inspect.
type inspectResult struct {
	Name    string         `json:"name" yaml:"name"`
	Path    string         `json:"path" yaml:"path"`
	Ready   bool           `json:"ready" yaml:"ready"`
	Error   string         `json:"error,omitempty" yaml:"error,omitempty"`
	Sources []string       `json:"sources,omitempty" yaml:"sources,omitempty"`
	Layout  *inspectLayout `json:"layout,omitempty" yaml:"layout,omitempty"`
}

type inspectLayout struct {
	Input      string          `json:"input" yaml:"input"`
	Channels   int             `json:"channels" yaml:"channels"`
	SampleRate int             `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	WindowSize int             `json:"window_size" yaml:"window_size"`
	HopSize    int             `json:"hop_size" yaml:"hop_size"`
	Stacked    bool            `json:"stacked" yaml:"stacked"`
	Inputs     []inspectTensor `json:"inputs" yaml:"inputs"`
	Outputs    []inspectTensor `json:"outputs" yaml:"outputs"`
}

type inspectTensor struct {
	Name  string `json:"name" yaml:"name"`
	Shape string `json:"shape" yaml:"shape"`
}

func tensors(descs []inference.TensorDescriptor) []inspectTensor {
	out := make([]inspectTensor, len(descs))
	for i, d := range descs {
		out[i] = inspectTensor{Name: d.Name, Shape: d.Shape.String()}
	}
	return out
}

func runInspect(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	rt, err := newRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	e, err := rt.lookup(name)
	if err != nil {
		return err
	}
	sep := rt.reg.Create(e)
	defer sep.Close()

	res := inspectResult{Name: e.Name, Path: sep.Path(), Ready: sep.Ready()}
	if err := sep.Err(); err != nil {
		res.Error = err.Error()
	}
	if sep.Ready() {
		l := sep.Layout()
		res.Sources = sep.SourceNames()
		res.Layout = &inspectLayout{
			Input:      l.Input,
			Channels:   l.Channels,
			SampleRate: l.SampleRate,
			WindowSize: l.WindowSize,
			HopSize:    l.HopSize,
			Stacked:    l.Stacked,
			Inputs:     tensors(l.Inputs),
			Outputs:    tensors(l.OutputDesc),
		}
	}
	return outputResult(res)
}
