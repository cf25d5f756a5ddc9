package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/haivivi/stemsplit/pkg/cli"
	"github.com/haivivi/stemsplit/pkg/observe"
	"github.com/haivivi/stemsplit/pkg/separation"
	"github.com/haivivi/stemsplit/pkg/separation/inference"
	"github.com/haivivi/stemsplit/pkg/separation/inference/ort"
	"github.com/haivivi/stemsplit/pkg/separation/registry"
	"github.com/haivivi/stemsplit/pkg/separation/stemcache"
)

// runtime bundles the resolved context with the objects built from it.
type runtime struct {
	ctx     *cli.Context
	paths   *cli.Paths
	backend *ort.Backend
	reg     *registry.Registry
	obs     *observe.Provider
}

// newRuntime resolves the context and builds the registry. With
// withBackend the ONNX Runtime backend and the metrics provider are started
// as well; listing models works without them.
func newRuntime(withBackend bool, sepOpts ...separation.Option) (*runtime, error) {
	ctx, err := getContext()
	if err != nil {
		return nil, err
	}
	paths, err := cli.NewPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	rt := &runtime{ctx: ctx, paths: paths}

	var entries []registry.Entry
	if ctx.Catalog != "" {
		entries, err = registry.LoadCatalog(paths.Expand(ctx.Catalog))
		if err != nil {
			return nil, err
		}
		printVerbose("Using catalog %s (%d models)", ctx.Catalog, len(entries))
	}

	var backend inference.Backend
	opts := []separation.Option{separation.WithParallelism(max(1, ctx.Parallelism))}
	if withBackend {
		rt.obs, err = observe.InitProvider(observe.ProviderConfig{ServiceVersion: buildVersion()})
		if err != nil {
			return nil, err
		}
		opts = append(opts, separation.WithMetrics(rt.obs.Metrics))

		rt.backend, err = ort.New(
			ort.WithIntraOpThreads(ctx.IntraOpThreads),
			ort.WithLogger(slog.Default()),
		)
		if err != nil {
			rt.Close()
			return nil, err
		}
		backend = rt.backend
	}
	opts = append(opts, sepOpts...)
	rt.reg, err = registry.New(backend, rt.modelsDir(), entries,
		registry.WithLogger(slog.Default()),
		registry.WithSeparatorOptions(opts...),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// modelsDir applies flag over context over the default.
func (rt *runtime) modelsDir() string {
	switch {
	case modelsDir != "":
		return rt.paths.Expand(modelsDir)
	case rt.ctx.ModelsDir != "":
		return rt.paths.Expand(rt.ctx.ModelsDir)
	}
	return registry.DefaultModelDir
}

// model returns name, or the context default when name is empty.
func (rt *runtime) model(name string) string {
	if name == "" {
		return rt.ctx.DefaultModel
	}
	return name
}

// lookup resolves name, or the context default when name is empty, to a
// catalog entry.
func (rt *runtime) lookup(name string) (registry.Entry, error) {
	name = rt.model(name)
	e, ok := rt.reg.Lookup(name)
	if !ok {
		return registry.Entry{}, fmt.Errorf("unknown model %q, see 'stemsplit models'", name)
	}
	return e, nil
}

// modelSize returns the size of the model file of e and whether it exists.
func (rt *runtime) modelSize(e registry.Entry) (int64, bool) {
	info, err := os.Stat(rt.reg.Path(e))
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

// openCache opens the result cache of the context, or returns nil when
// disabled.
func (rt *runtime) openCache(disabled bool) (*stemcache.Cache, error) {
	cfg := rt.ctx.Cache
	if disabled || (cfg != nil && cfg.Disabled) {
		return nil, nil
	}
	ttl, err := rt.ctx.CacheTTL()
	if err != nil {
		return nil, err
	}
	return stemcache.Open(stemcache.Options{Dir: rt.cacheDir(), TTL: ttl, Logger: slog.Default()})
}

// cacheDir returns the cache directory of the context.
func (rt *runtime) cacheDir() string {
	if cfg := rt.ctx.Cache; cfg != nil && cfg.Dir != "" {
		return rt.paths.Expand(cfg.Dir)
	}
	return rt.paths.CacheDir()
}

func (rt *runtime) Close() error {
	var errs []error
	if rt.backend != nil {
		errs = append(errs, rt.backend.Close())
	}
	if rt.obs != nil {
		errs = append(errs, rt.obs.Shutdown(context.Background()))
	}
	return errors.Join(errs...)
}

// printSummary reports the run's inference and cache totals in verbose
// mode.
func (rt *runtime) printSummary(ctx context.Context) {
	if !verbose || rt.obs == nil {
		return
	}
	s, err := rt.obs.Summary(ctx)
	if err != nil {
		printVerbose("Metrics unavailable: %v", err)
		return
	}
	printVerbose("Inference: %d windows, %s mean, %d errors", s.Windows, cli.FormatDuration(s.MeanInfer()), s.InferErrors)
	printVerbose("Cache: %d hits, %d misses", s.CacheHits, s.CacheMisses)
}

// buildVersion returns the main module version, or "devel".
func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "devel"
}
