// Package registry resolves model names to separators.
//
// A Registry holds a static catalog of model families. Each entry names a
// model file under the registry's model directory, a set of aliases, and
// the separation.Profile the family needs. Lookups are case-insensitive
// and ignore surrounding whitespace:
//
//	backend, err := ort.New()
//	if err != nil {
//	    return err
//	}
//	reg, err := registry.New(backend, registry.DefaultModelDir, nil)
//	if err != nil {
//	    return err
//	}
//	sep, ok := reg.CreateByName("demucs")
//	if !ok {
//	    // no such model
//	}
//	if !sep.Ready() {
//	    // known model, file missing or incompatible
//	}
//
// An unknown name is not an error: CreateByName reports it with ok=false so
// callers can tell "no such model" apart from a load failure. The empty
// name selects the default entry.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/haivivi/stemsplit/pkg/separation"
	"github.com/haivivi/stemsplit/pkg/separation/inference"
)

// DefaultModelDir is where model files live unless configured otherwise,
// relative to the working directory.
const DefaultModelDir = "models"

var (
	// ErrDuplicateAlias is returned by New when two entries claim the same
	// normalised name.
	ErrDuplicateAlias = errors.New("registry: duplicate alias")

	// ErrInvalidEntry is returned for an entry without a name or file.
	ErrInvalidEntry = errors.New("registry: invalid entry")
)

// Entry is one model family in the catalog.
type Entry struct {
	// Name is the display name returned by AvailableModels.
	Name string `yaml:"name"`
	// File is the model file, relative to the model directory unless
	// absolute.
	File string `yaml:"file"`
	// Aliases are extra lookup names.
	Aliases []string `yaml:"aliases,omitempty"`
	// Default marks the entry the empty name resolves to. At most one
	// entry may set it; without one the first entry is the default.
	Default bool `yaml:"default,omitempty"`
	// Profile is the framing contract passed to the separator.
	Profile separation.Profile `yaml:"profile"`
}

// Names returns every lookup key of e, normalised: the display name, the
// file name without extension, and the aliases.
func (e Entry) Names() []string {
	base := filepath.Base(e.File)
	keys := []string{normalize(e.Name), normalize(strings.TrimSuffix(base, filepath.Ext(base)))}
	for _, a := range e.Aliases {
		keys = append(keys, normalize(a))
	}
	return slices.Compact(slices.DeleteFunc(keys, func(k string) bool { return k == "" }))
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registry maps model names to catalog entries and builds separators. It is
// read-only after New and safe for concurrent use.
type Registry struct {
	backend inference.Backend
	dir     string
	logger  *slog.Logger
	sepOpts []separation.Option

	entries []Entry
	index   map[string]int
	def     int
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for the registry and the separators it
// creates. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithSeparatorOptions appends options applied to every created separator.
func WithSeparatorOptions(opts ...separation.Option) Option {
	return func(r *Registry) { r.sepOpts = append(r.sepOpts, opts...) }
}

// New builds a registry over entries. A nil or empty entries uses
// DefaultCatalog. An empty modelDir uses DefaultModelDir.
func New(backend inference.Backend, modelDir string, entries []Entry, opts ...Option) (*Registry, error) {
	if len(entries) == 0 {
		entries = DefaultCatalog()
	}
	if modelDir == "" {
		modelDir = DefaultModelDir
	}
	r := &Registry{
		backend: backend,
		dir:     modelDir,
		logger:  slog.Default(),
		entries: make([]Entry, len(entries)),
		index:   make(map[string]int),
		def:     -1,
	}
	for _, o := range opts {
		o(r)
	}

	for i, e := range entries {
		if strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.File) == "" {
			return nil, fmt.Errorf("%w: entry %d needs a name and a file", ErrInvalidEntry, i)
		}
		if e.Default {
			if r.def >= 0 {
				return nil, fmt.Errorf("%w: %q and %q are both marked default", ErrInvalidEntry, entries[r.def].Name, e.Name)
			}
			r.def = i
		}
		for _, key := range e.Names() {
			if j, ok := r.index[key]; ok && j != i {
				return nil, fmt.Errorf("%w: %q names both %q and %q", ErrDuplicateAlias, key, entries[j].Name, e.Name)
			}
			r.index[key] = i
		}
		e.Aliases = slices.Clone(e.Aliases)
		e.Profile.Stems = slices.Clone(e.Profile.Stems)
		r.entries[i] = e
	}
	if r.def < 0 {
		r.def = 0
	}
	return r, nil
}

// Dir returns the model directory.
func (r *Registry) Dir() string {
	return r.dir
}

// AvailableModels returns the display names in catalog order. It does not
// check whether model files exist.
func (r *Registry) AvailableModels() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Entries returns a copy of the catalog.
func (r *Registry) Entries() []Entry {
	return slices.Clone(r.entries)
}

// Default returns the entry the empty name resolves to.
func (r *Registry) Default() Entry {
	return r.entries[r.def]
}

// Lookup resolves name to its entry. The empty name resolves to Default.
func (r *Registry) Lookup(name string) (Entry, bool) {
	key := normalize(name)
	if key == "" {
		return r.Default(), true
	}
	i, ok := r.index[key]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Path returns the model file path of e.
func (r *Registry) Path(e Entry) string {
	if filepath.IsAbs(e.File) {
		return e.File
	}
	return filepath.Join(r.dir, e.File)
}

// CreateByName builds a separator for name. Unknown names return
// (nil, false). A known name always yields a separator, which is not ready
// if its model fails to load. The caller owns the separator and must Close
// it.
func (r *Registry) CreateByName(name string) (separation.Separator, bool) {
	e, ok := r.Lookup(name)
	if !ok {
		r.logger.Debug("registry: unknown model", "name", name)
		return nil, false
	}
	return r.Create(e), true
}

// Create builds a separator for e.
func (r *Registry) Create(e Entry) *separation.ModelSeparator {
	opts := append([]separation.Option{
		separation.WithLogger(r.logger),
		separation.WithName(e.Name),
	}, r.sepOpts...)
	return separation.New(r.backend, r.Path(e), e.Profile, opts...)
}
