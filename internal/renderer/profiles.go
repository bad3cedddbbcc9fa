package renderer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// QualityProfile maps a named quality level onto renderer CLI flags.
type QualityProfile struct {
	Flag   string `yaml:"flag"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// Profiles is the set of quality levels the executor accepts.
type Profiles map[string]QualityProfile

const defaultProfilesYAML = `
low:
  flag: -ql
  width: 854
  height: 480
  fps: 15
medium:
  flag: -qm
  width: 1280
  height: 720
  fps: 30
high:
  flag: -qh
  width: 1920
  height: 1080
  fps: 60
fourk:
  flag: -qk
  width: 3840
  height: 2160
  fps: 60
`

// DefaultProfiles returns the built-in quality profiles.
func DefaultProfiles() Profiles {
	var p Profiles
	// The literal above is part of the build; a parse failure is a bug.
	if err := yaml.Unmarshal([]byte(defaultProfilesYAML), &p); err != nil {
		panic(fmt.Sprintf("renderer: invalid built-in profiles: %v", err))
	}
	return p
}

// LoadProfiles reads profiles from a YAML file, overlaying the
// defaults. An empty path returns the defaults unchanged.
func LoadProfiles(path string) (Profiles, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}

	var overlay Profiles
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse profiles file: %w", err)
	}
	for name, profile := range overlay {
		profiles[name] = profile
	}
	return profiles, nil
}

// Resolve returns the profile for name, or an error listing the known names.
func (p Profiles) Resolve(name string) (QualityProfile, error) {
	if profile, ok := p[name]; ok {
		return profile, nil
	}
	names := make([]string, 0, len(p))
	for n := range p {
		names = append(names, n)
	}
	return QualityProfile{}, fmt.Errorf("unknown quality profile %q (have %v)", name, names)
}
