package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/stemsplit/pkg/audio/wavfile"
	"github.com/haivivi/stemsplit/pkg/cli"
	"github.com/haivivi/stemsplit/pkg/separation"
	"github.com/haivivi/stemsplit/pkg/separation/stemcache"
	"github.com/haivivi/stemsplit/pkg/stemstore"
)

var (
	sepModel    string
	sepOut      string
	sepBucket   string
	sepPrefix   string
	sepRunID    string
	sepParallel int
	sepBitDepth int
	sepNoCache  bool
	sepQuiet    bool
)

var separateCmd = &cobra.Command{
	Use:   "separate <input.wav>",
	Short: "Split a WAV file into stems",
	Long: `Separate a WAV file into one WAV per stem.

Stems keep the input's sample rate and channel count. They are written to
<out>/<run-id>/ together with a manifest.yaml describing the run; with
--s3-bucket they are uploaded to s3://<bucket>/<prefix>/<run-id>/ instead.

Results are cached by model and input content, so separating the same file
twice with the same model skips inference.

Examples:
  stemsplit separate song.wav
  stemsplit separate -m spleeter song.wav --out ./stems --run-id song
  stemsplit separate -m htdemucs6 --parallel 4 --bit-depth 24 song.wav
  stemsplit separate --s3-bucket stems --s3-prefix runs song.wav`,
	Args: cobra.ExactArgs(1),
	RunE: runSeparate,
}

func init() {
	separateCmd.Flags().StringVarP(&sepModel, "model", "m", "", "model name or alias (default: context default_model or catalog default)")
	separateCmd.Flags().StringVar(&sepOut, "out", "", "local output directory (default: context output.dir or ~/.stemsplit/stems)")
	separateCmd.Flags().StringVar(&sepBucket, "s3-bucket", "", "upload stems to this S3 bucket")
	separateCmd.Flags().StringVar(&sepPrefix, "s3-prefix", "", "key prefix for S3 uploads")
	separateCmd.Flags().StringVar(&sepRunID, "run-id", "", "run directory name (default: random UUID)")
	separateCmd.Flags().IntVar(&sepParallel, "parallel", 0, "windows inferred at once (default: context parallelism or 1)")
	separateCmd.Flags().IntVar(&sepBitDepth, "bit-depth", 0, "WAV bit depth: 16, 24 or 32 (default: context output.bit_depth or 16)")
	separateCmd.Flags().BoolVar(&sepNoCache, "no-cache", false, "skip the result cache")
	separateCmd.Flags().BoolVarP(&sepQuiet, "quiet", "q", false, "hide the progress bar")
}

func runSeparate(cmd *cobra.Command, args []string) error {
	input := args[0]

	in, err := wavfile.ReadFile(input)
	if err != nil {
		return err
	}
	printVerbose("Read %s: %s, %d ch, %s", input,
		cli.FormatRate(in.SampleRate()), in.Channels(), cli.FormatDuration(in.Duration()))

	var sepOpts []separation.Option
	if sepParallel > 0 {
		sepOpts = append(sepOpts, separation.WithParallelism(sepParallel))
	}
	if !sepQuiet && !outputJSON {
		bar := cli.Progress{Styles: cli.NewStyles(cli.DefaultTheme), Label: "separating", Unit: "windows"}
		sepOpts = append(sepOpts, separation.WithProgress(func(done, total int) {
			fmt.Fprint(os.Stderr, "\r"+bar.Render(done, total))
			if done == total {
				fmt.Fprintln(os.Stderr)
			}
		}))
	}

	rt, err := newRuntime(true, sepOpts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	entry, err := rt.lookup(sepModel)
	if err != nil {
		return err
	}
	model := rt.reg.Create(entry)
	if !model.Ready() {
		model.Close()
		return fmt.Errorf("model %s not ready: %w", entry.Name, model.Err())
	}
	var sep separation.Separator = model

	cache, err := rt.openCache(sepNoCache)
	if err != nil {
		cli.PrintWarning("cache disabled: %v", err)
	}
	if cache != nil {
		defer cache.Close()
		sep = stemcache.Wrap(sep, cache, entry.Name,
			stemcache.WithLogger(slog.Default()),
			stemcache.WithMetrics(rt.obs.Metrics))
	}
	defer sep.Close()

	store, where, err := rt.outputStore()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	stems, err := sep.Process(ctx, in)
	if err != nil {
		return fmt.Errorf("separate %s: %w", input, err)
	}
	elapsed := time.Since(start)
	printVerbose("Separated %s in %s (%s)", entry.Name, cli.FormatDuration(elapsed), cli.FormatSpeed(in.Duration(), elapsed))
	rt.printSummary(ctx)

	exp := stemstore.NewExporter(store,
		stemstore.WithPrefix(rt.exportPrefix()),
		stemstore.WithBitDepth(rt.bitDepth()),
		stemstore.WithExportLogger(slog.Default()),
	)
	manifest, err := exp.Export(ctx, stems, stemstore.Run{
		ID:     sepRunID,
		Model:  entry.Name,
		Source: filepath.Base(input),
	})
	if err != nil {
		return err
	}

	if !outputJSON {
		cli.PrintSuccess("%d stems written to %s", len(manifest.Stems), store.Location(exp.Dir(manifest.RunID)))
		printVerbose("Output: %s", where)
	}
	return outputResult(manifest)
}

// outputStore returns the S3 or local store selected by flags and context.
func (rt *runtime) outputStore() (stemstore.Store, string, error) {
	out := rt.ctx.Output
	if out == nil {
		out = &cli.OutputConfig{}
	}

	bucket := sepBucket
	if bucket == "" && sepOut == "" {
		bucket = out.Bucket
	}
	if bucket != "" {
		cfg := stemstore.S3Config{
			Region:          firstNonEmpty(out.Region, os.Getenv("AWS_REGION"), "us-east-1"),
			Endpoint:        out.Endpoint,
			AccessKeyID:     firstNonEmpty(out.AccessKey, os.Getenv("AWS_ACCESS_KEY_ID")),
			SecretAccessKey: firstNonEmpty(out.SecretKey, os.Getenv("AWS_SECRET_ACCESS_KEY")),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			PathStyle:       out.PathStyle,
		}
		return stemstore.NewS3(stemstore.NewS3Client(cfg), bucket, ""), "s3://" + bucket, nil
	}

	dir := firstNonEmpty(sepOut, rt.paths.Expand(out.Dir), rt.paths.OutputDir())
	store, err := stemstore.NewLocal(dir)
	if err != nil {
		return nil, "", err
	}
	return store, store.Root(), nil
}

func (rt *runtime) exportPrefix() string {
	if sepPrefix != "" {
		return sepPrefix
	}
	if rt.ctx.Output != nil {
		return rt.ctx.Output.Prefix
	}
	return ""
}

func (rt *runtime) bitDepth() int {
	if sepBitDepth > 0 {
		return sepBitDepth
	}
	if rt.ctx.Output != nil && rt.ctx.Output.BitDepth > 0 {
		return rt.ctx.Output.BitDepth
	}
	return wavfile.DefaultBitDepth
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
