package profile

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Overlay holds profiles staged via a YAML file before they ship in code.
// Overlay profiles participate in merges like built-ins; the auditor
// reports them under a separate flag so drift against code is attributable.
type Overlay struct {
	Verticals []VerticalProfile `yaml:"verticals"`
	Markets   []MarketProfile   `yaml:"markets"`
}

// LoadOverlay reads an overlay file. A missing path is not an error; most
// deployments run without one.
func LoadOverlay(path string) (Overlay, error) {
	if path == "" {
		return Overlay{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Overlay{}, nil
		}
		return Overlay{}, eris.Wrapf(err, "profile: read overlay %s", path)
	}

	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Overlay{}, eris.Wrapf(err, "profile: parse overlay %s", path)
	}
	return o, nil
}
