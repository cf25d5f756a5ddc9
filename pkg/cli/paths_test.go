package cli

import (
	"path/filepath"
	"testing"
)

func TestPaths(t *testing.T) {
	p := &Paths{HomeDir: "/home/test"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"BaseDir", p.BaseDir(), "/home/test/.stemsplit"},
		{"ConfigFile", p.ConfigFile(), "/home/test/.stemsplit/config.yaml"},
		{"CacheDir", p.CacheDir(), "/home/test/.stemsplit/cache"},
		{"OutputDir", p.OutputDir(), "/home/test/.stemsplit/stems"},
	}
	for _, tt := range tests {
		if tt.got != filepath.FromSlash(tt.want) {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestPaths_Expand(t *testing.T) {
	p := &Paths{HomeDir: "/home/test"}
	tests := map[string]string{
		"~":          "/home/test",
		"~/models":   "/home/test/models",
		"/abs":       "/abs",
		"rel/~":      "rel/~",
		"~other/dir": "~other/dir",
	}
	for in, want := range tests {
		if got := p.Expand(in); got != filepath.FromSlash(want) {
			t.Errorf("Expand(%q) = %q, want %q", in, got, want)
		}
	}
}
