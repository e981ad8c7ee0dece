package update

import (
	"fmt"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Manifest describes one application release: the version stamp that names
// its caches and the assets installed ahead of first use.
type Manifest struct {
	Version  string   `koanf:"version"`
	Precache []string `koanf:"precache"`
}

// LoadManifest reads and validates a release manifest from a JSON file.
func LoadManifest(path string) (Manifest, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		return Manifest{}, fmt.Errorf("update: load manifest %s: %w", path, err)
	}
	var m Manifest
	if err := k.Unmarshal("", &m); err != nil {
		return Manifest{}, fmt.Errorf("update: decode manifest %s: %w", path, err)
	}
	if strings.TrimSpace(m.Version) == "" {
		return Manifest{}, fmt.Errorf("update: manifest %s has no version", path)
	}
	for i, asset := range m.Precache {
		asset = strings.TrimSpace(asset)
		if asset == "" || !strings.HasPrefix(asset, "/") {
			return Manifest{}, fmt.Errorf("update: manifest %s precache[%d] %q must be an absolute path", path, i, m.Precache[i])
		}
		m.Precache[i] = asset
	}
	return m, nil
}
