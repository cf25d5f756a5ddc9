package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	// DefaultBaseDir is the base configuration directory name
	DefaultBaseDir = ".stemsplit"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
	// DefaultContextName is the name of the implicit context used when
	// none is configured
	DefaultContextName = "default"
)

// Config is the stemsplit configuration file. It holds named contexts, each
// a complete set of separation settings, similar to kubectl.
type Config struct {
	// CurrentContext is the name of the currently active context
	CurrentContext string `yaml:"current_context,omitempty"`

	// Contexts is a map of context name to context configuration
	Contexts map[string]*Context `yaml:"contexts,omitempty"`

	// configPath is the path to the config file
	configPath string
}

// Context is one set of separation settings.
type Context struct {
	// Name is the context name
	Name string `yaml:"name"`

	// ModelsDir is where model files live (default: ./models)
	ModelsDir string `yaml:"models_dir,omitempty"`

	// Catalog is an optional YAML catalog replacing the built-in models
	Catalog string `yaml:"catalog,omitempty"`

	// DefaultModel is used when no -m flag is given
	DefaultModel string `yaml:"default_model,omitempty"`

	// Parallelism is the number of windows inferred at once
	Parallelism int `yaml:"parallelism,omitempty"`

	// IntraOpThreads limits ONNX Runtime threads per inference
	IntraOpThreads int `yaml:"intra_op_threads,omitempty"`

	// Cache configures the result cache
	Cache *CacheConfig `yaml:"cache,omitempty"`

	// Output configures where stems are written
	Output *OutputConfig `yaml:"output,omitempty"`
}

// CacheConfig configures the stem result cache.
type CacheConfig struct {
	// Disabled turns the cache off
	Disabled bool `yaml:"disabled,omitempty"`

	// Dir is the cache directory (default: ~/.stemsplit/cache)
	Dir string `yaml:"dir,omitempty"`

	// TTL expires cached results, e.g. "72h" (optional)
	TTL string `yaml:"ttl,omitempty"`
}

// OutputConfig selects local or S3 output.
type OutputConfig struct {
	// Dir is the local output directory
	Dir string `yaml:"dir,omitempty"`

	// Bucket selects S3 output when set
	Bucket string `yaml:"bucket,omitempty"`

	// Prefix is the S3 key prefix or local subdirectory
	Prefix string `yaml:"prefix,omitempty"`

	// Region is the S3 region
	Region string `yaml:"region,omitempty"`

	// Endpoint is a custom S3 endpoint (MinIO, R2, ...)
	Endpoint string `yaml:"endpoint,omitempty"`

	// PathStyle forces path-style S3 addressing
	PathStyle bool `yaml:"path_style,omitempty"`

	// AccessKey and SecretKey are S3 credentials. When empty the
	// AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY variables are used.
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`

	// BitDepth of exported WAV files (default: 16)
	BitDepth int `yaml:"bit_depth,omitempty"`
}

// LoadConfig loads the configuration from path, or from
// ~/.stemsplit/config.yaml when path is empty. A missing file is created.
func LoadConfig(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		paths, err := NewPaths()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = paths.ConfigFile()
	}

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := &Config{
		Contexts:   make(map[string]*Context),
		configPath: configPath,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Save()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	for name, ctx := range cfg.Contexts {
		ctx.Name = name
	}
	cfg.configPath = configPath
	return cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Path returns the config file path
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the config directory path
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// AddContext adds or replaces a context
func (c *Config) AddContext(name string, ctx *Context) error {
	if name == "" {
		return fmt.Errorf("context name is required")
	}
	ctx.Name = name
	c.Contexts[name] = ctx
	return c.Save()
}

// DeleteContext removes a context
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns a specific context
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// ResolveContext returns the named context, or the current one when name
// is empty. With neither, it returns an empty context named "default", so
// stemsplit works without any configuration.
func (c *Config) ResolveContext(name string) (*Context, error) {
	if name != "" {
		return c.GetContext(name)
	}
	if c.CurrentContext != "" {
		return c.GetContext(c.CurrentContext)
	}
	return &Context{Name: DefaultContextName}, nil
}

// ListContexts returns all context names, sorted
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Keys lists the settings accepted by Context.Set.
var Keys = []string{
	"models_dir", "catalog", "default_model", "parallelism", "intra_op_threads",
	"cache.disabled", "cache.dir", "cache.ttl",
	"output.dir", "output.bucket", "output.prefix", "output.region", "output.endpoint",
	"output.path_style", "output.access_key", "output.secret_key", "output.bit_depth",
}

// Set assigns one setting by its dotted key, validating the value.
func (ctx *Context) Set(key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%s: want a non-negative integer, got %q", key, value)
		}
		return n, nil
	}
	parseBool := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("%s: want true or false, got %q", key, value)
		}
		return b, nil
	}

	group, _, _ := strings.Cut(key, ".")
	switch group {
	case "cache":
		if ctx.Cache == nil {
			ctx.Cache = &CacheConfig{}
		}
	case "output":
		if ctx.Output == nil {
			ctx.Output = &OutputConfig{}
		}
	}

	var err error
	switch key {
	case "models_dir":
		ctx.ModelsDir = value
	case "catalog":
		ctx.Catalog = value
	case "default_model":
		ctx.DefaultModel = value
	case "parallelism":
		ctx.Parallelism, err = atoi()
	case "intra_op_threads":
		ctx.IntraOpThreads, err = atoi()
	case "cache.disabled":
		ctx.Cache.Disabled, err = parseBool()
	case "cache.dir":
		ctx.Cache.Dir = value
	case "cache.ttl":
		if value != "" {
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
		ctx.Cache.TTL = value
	case "output.dir":
		ctx.Output.Dir = value
	case "output.bucket":
		ctx.Output.Bucket = value
	case "output.prefix":
		ctx.Output.Prefix = value
	case "output.region":
		ctx.Output.Region = value
	case "output.endpoint":
		ctx.Output.Endpoint = value
	case "output.path_style":
		ctx.Output.PathStyle, err = parseBool()
	case "output.access_key":
		ctx.Output.AccessKey = value
	case "output.secret_key":
		ctx.Output.SecretKey = value
	case "output.bit_depth":
		ctx.Output.BitDepth, err = atoi()
	default:
		return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(Keys, ", "))
	}
	return err
}

// CacheTTL returns the parsed cache TTL, zero when unset.
func (ctx *Context) CacheTTL() (time.Duration, error) {
	if ctx.Cache == nil || ctx.Cache.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(ctx.Cache.TTL)
	if err != nil {
		return 0, fmt.Errorf("cache.ttl: %w", err)
	}
	return d, nil
}

// Masked returns a copy of ctx with secrets masked for display.
func (ctx *Context) Masked() *Context {
	out := *ctx
	if ctx.Output != nil {
		o := *ctx.Output
		o.SecretKey = MaskSecret(o.SecretKey)
		o.AccessKey = MaskSecret(o.AccessKey)
		out.Output = &o
	}
	return &out
}

// MaskSecret masks a secret for display
func MaskSecret(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
