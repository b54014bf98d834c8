package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wudi/pdfmark/marker"
	"github.com/wudi/pdfmark/summary"
)

// Profile is a render profile:
//
//	style:
//	  glyph_size: 16
//	  offset_x: -20
//	  offset_y: -2
//	  line_width: 2
//	  correct: {r: 0, g: 0.6, b: 0}
//	  incorrect: {r: 0.8, g: 0, b: 0}
//	summary:
//	  x: 40
//	  y: 30
//	  width: 300
//	  title: EXAM MARKING SUMMARY
//
// Omitted keys keep their defaults.
type Profile struct {
	Style   marker.Style   `yaml:"style"`
	Summary summary.Layout `yaml:"summary"`
}

func DefaultProfile() Profile {
	return Profile{Style: marker.DefaultStyle(), Summary: summary.DefaultLayout()}
}

// ParseProfile decodes YAML over the defaults and validates the result.
func ParseProfile(data []byte) (Profile, error) {
	p := DefaultProfile()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LoadProfile reads a profile file. An empty path gives the defaults.
func LoadProfile(path string) (Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Profile{}, fmt.Errorf("profile %s does not exist", path)
		}
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (p Profile) Validate() error {
	if err := p.Style.Validate(); err != nil {
		return fmt.Errorf("style: %w", err)
	}
	return p.Summary.Validate()
}
