package registry

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haivivi/stemsplit/pkg/separation"
)

// DefaultModel is the display name of the default catalog entry.
const DefaultModel = "HTDemucs"

// DefaultCatalog returns the built-in model families.
//
// HTDemucs models emit one stacked [1, S, C, T] tensor, so their stems are
// named here. Spleeter exports name one output per stem.
func DefaultCatalog() []Entry {
	demucs := separation.Profile{
		SampleRate: 44100,
		Channels:   2,
		WindowSize: 343980, // 7.8 s
		Overlap:    0.25,
		Normalize:  true,
	}
	spleeter := separation.Profile{
		SampleRate: 44100,
		Channels:   2,
		WindowSize: 441000, // 10 s
		Overlap:    0.25,
	}

	demucs4 := demucs
	demucs4.Stems = []string{"drums", "bass", "other", "vocals"}
	demucs6 := demucs
	demucs6.Stems = []string{"drums", "bass", "other", "vocals", "guitar", "piano"}

	spleeter2 := spleeter
	spleeter2.Stems = []string{"vocals", "accompaniment"}
	spleeter4 := spleeter
	spleeter4.Stems = []string{"vocals", "drums", "bass", "other"}
	spleeter5 := spleeter
	spleeter5.Stems = []string{"vocals", "drums", "bass", "piano", "other"}

	return []Entry{
		{Name: DefaultModel, File: "htdemucs.onnx", Aliases: []string{"demucs", "htdemucs-4s"}, Default: true, Profile: demucs4},
		{Name: "HTDemucs 6-Stem", File: "htdemucs_6s.onnx", Aliases: []string{"htdemucs6", "htdemucs-6s", "demucs6"}, Profile: demucs6},
		{Name: "Spleeter 2-Stem", File: "spleeter_2stems.onnx", Aliases: []string{"spleeter", "spleeter2", "spleeter:2stems", "2stems"}, Profile: spleeter2},
		{Name: "Spleeter 4-Stem", File: "spleeter_4stems.onnx", Aliases: []string{"spleeter4", "spleeter:4stems", "4stems"}, Profile: spleeter4},
		{Name: "Spleeter 5-Stem", File: "spleeter_5stems.onnx", Aliases: []string{"spleeter5", "spleeter:5stems", "5stems"}, Profile: spleeter5},
	}
}

// catalogFile is the on-disk catalog layout.
type catalogFile struct {
	Models []Entry `yaml:"models"`
}

// ParseCatalog decodes a YAML catalog:
//
//	models:
//	  - name: HTDemucs
//	    file: htdemucs.onnx
//	    aliases: [demucs]
//	    default: true
//	    profile:
//	      sample_rate: 44100
//	      overlap: 0.25
//	      stems: [drums, bass, other, vocals]
//
// Unknown fields are an error.
func ParseCatalog(r io.Reader) ([]Entry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("registry: empty catalog")
		}
		return nil, fmt.Errorf("registry: parse catalog: %w", err)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("registry: catalog lists no models")
	}
	for i, e := range f.Models {
		if err := e.Profile.Validate(); err != nil {
			return nil, fmt.Errorf("registry: model %d (%s): %w", i, e.Name, err)
		}
	}
	return f.Models, nil
}

// LoadCatalog reads a catalog file with ParseCatalog.
func LoadCatalog(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// MarshalCatalog encodes entries in the layout ParseCatalog reads.
func MarshalCatalog(entries []Entry) ([]byte, error) {
	data, err := yaml.Marshal(catalogFile{Models: entries})
	if err != nil {
		return nil, fmt.Errorf("registry: marshal catalog: %w", err)
	}
	return data, nil
}
