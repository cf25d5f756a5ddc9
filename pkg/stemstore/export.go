package stemstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/stemsplit/pkg/audio/wavfile"
	"github.com/haivivi/stemsplit/pkg/separation"
)

// ManifestFile is the manifest's name inside a run directory.
const ManifestFile = "manifest.yaml"

var (
	// ErrEmptyStemSet is returned by Export for a StemSet without stems.
	ErrEmptyStemSet = errors.New("stemstore: empty stem set")

	// ErrDuplicateFile is returned by Export when two stem names map to the
	// same file name, such as "Vocals" and "vocals".
	ErrDuplicateFile = errors.New("stemstore: duplicate stem file name")
)

// Manifest describes one exported separation run.
type Manifest struct {
	RunID      string         `yaml:"run_id"`
	Model      string         `yaml:"model"`
	Source     string         `yaml:"source,omitempty"`
	CreatedAt  time.Time      `yaml:"created_at"`
	SampleRate int            `yaml:"sample_rate"`
	Channels   int            `yaml:"channels"`
	Frames     int            `yaml:"frames"`
	Duration   string         `yaml:"duration"`
	BitDepth   int            `yaml:"bit_depth"`
	Stems      []ManifestStem `yaml:"stems"`
}

// ManifestStem is one stem file in a Manifest.
type ManifestStem struct {
	Name string  `yaml:"name"`
	File string  `yaml:"file"`
	Peak float32 `yaml:"peak"`
}

// Run identifies the separation being exported.
type Run struct {
	// ID names the run directory. Empty generates a UUID.
	ID string
	// Model is the catalog name of the model used.
	Model string
	// Source is the input file, for reference.
	Source string
}

// Exporter writes StemSets to a Store.
type Exporter struct {
	store    Store
	prefix   string
	bitDepth int
	workers  int
	logger   *slog.Logger
	now      func() time.Time
}

// ExportOption configures an Exporter.
type ExportOption func(*Exporter)

// WithPrefix places run directories under prefix.
func WithPrefix(prefix string) ExportOption {
	return func(e *Exporter) { e.prefix = strings.Trim(prefix, "/") }
}

// WithBitDepth sets the WAV bit depth. Default is 16.
func WithBitDepth(depth int) ExportOption {
	return func(e *Exporter) { e.bitDepth = depth }
}

// WithWorkers sets how many stems are encoded and uploaded at once.
// Default is 4.
func WithWorkers(n int) ExportOption {
	return func(e *Exporter) { e.workers = max(1, n) }
}

// WithExportLogger sets the logger. Default is slog.Default().
func WithExportLogger(l *slog.Logger) ExportOption {
	return func(e *Exporter) { e.logger = l }
}

// NewExporter returns an Exporter writing to store.
func NewExporter(store Store, opts ...ExportOption) *Exporter {
	e := &Exporter{
		store:    store,
		bitDepth: wavfile.DefaultBitDepth,
		workers:  4,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Dir returns the directory of run id inside the store.
func (e *Exporter) Dir(id string) string {
	if e.prefix == "" {
		return id
	}
	return e.prefix + "/" + id
}

// Export writes every stem as a WAV file and then the manifest. The
// manifest is written last, so its presence marks a complete run.
func (e *Exporter) Export(ctx context.Context, stems separation.StemSet, run Run) (*Manifest, error) {
	if len(stems) == 0 {
		return nil, ErrEmptyStemSet
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	dir := e.Dir(run.ID)

	names := stems.Names()
	files := make(map[string]string, len(names))
	for _, name := range names {
		file := FileName(name)
		if other, ok := files[file]; ok {
			return nil, fmt.Errorf("%w: %q and %q both map to %s", ErrDuplicateFile, other, name, file)
		}
		files[file] = name
	}
	first := stems[names[0]]
	m := &Manifest{
		RunID:      run.ID,
		Model:      run.Model,
		Source:     run.Source,
		CreatedAt:  e.now().UTC(),
		SampleRate: first.SampleRate(),
		Channels:   first.Channels(),
		Frames:     first.Frames(),
		Duration:   first.Duration().String(),
		BitDepth:   e.bitDepth,
		Stems:      make([]ManifestStem, len(names)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, name := range names {
		file := FileName(name)
		m.Stems[i] = ManifestStem{Name: name, File: file, Peak: stems[name].Peak()}
		g.Go(func() error {
			data, err := wavfile.Bytes(stems[name], e.bitDepth)
			if err != nil {
				return fmt.Errorf("stemstore: encode %q: %w", name, err)
			}
			if err := e.store.Put(gctx, path.Join(dir, file), data, "audio/wav"); err != nil {
				return err
			}
			e.logger.Debug("stemstore: wrote stem", "stem", name, "location", e.store.Location(path.Join(dir, file)), "bytes", len(data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("stemstore: marshal manifest: %w", err)
	}
	if err := e.store.Put(ctx, path.Join(dir, ManifestFile), data, "application/yaml"); err != nil {
		return nil, err
	}
	e.logger.Info("stemstore: exported", "run", run.ID, "model", run.Model, "stems", len(names), "location", e.store.Location(dir))
	return m, nil
}

// Manifest reads the manifest of run id.
func (e *Exporter) Manifest(ctx context.Context, id string) (*Manifest, error) {
	data, err := e.store.Get(ctx, path.Join(e.Dir(id), ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("stemstore: parse manifest: %w", err)
	}
	return &m, nil
}

// FileName returns the WAV file name for a stem. Characters outside
// [a-z0-9_-] become underscores.
func FileName(stem string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, stem)
	if name == "" {
		name = "stem"
	}
	return name + ".wav"
}
