package lifestyle

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Catalog - 라이프스타일 모델/씬 카탈로그
type Catalog struct {
	Models []ModelEntry `yaml:"models"`
	Scenes []SceneTag   `yaml:"scenes"`
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(embeddedCatalog)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse lifestyle catalog: %w", err)
	}
	if len(c.Models) == 0 || len(c.Scenes) == 0 {
		return nil, fmt.Errorf("lifestyle catalog needs at least one model and one scene")
	}
	seen := map[string]bool{}
	for _, m := range c.Models {
		if m.ID == "" || seen[m.ID] {
			return nil, fmt.Errorf("invalid or duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
	}
	for _, s := range c.Scenes {
		if s.ID == "" || seen[s.ID] {
			return nil, fmt.Errorf("invalid or duplicate scene id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return &c, nil
}
