package cli

import (
	"os"
	"path/filepath"
)

// Paths provides access to the stemsplit directory layout under the
// user's home directory.
type Paths struct {
	// HomeDir is the user's home directory
	HomeDir string
}

// NewPaths returns Paths for the current user
func NewPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{HomeDir: home}, nil
}

// BaseDir returns the base directory (~/.stemsplit)
func (p *Paths) BaseDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// ConfigFile returns the config file path (~/.stemsplit/config.yaml)
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.BaseDir(), DefaultConfigFile)
}

// CacheDir returns the result cache directory (~/.stemsplit/cache)
func (p *Paths) CacheDir() string {
	return filepath.Join(p.BaseDir(), "cache")
}

// OutputDir returns the default stem output directory (~/.stemsplit/stems)
func (p *Paths) OutputDir() string {
	return filepath.Join(p.BaseDir(), "stems")
}

// Expand replaces a leading "~/" in path with the home directory.
func (p *Paths) Expand(path string) string {
	if path == "~" {
		return p.HomeDir
	}
	if len(path) > 1 && path[0] == '~' && (path[1] == '/' || path[1] == filepath.Separator) {
		return filepath.Join(p.HomeDir, path[2:])
	}
	return path
}
