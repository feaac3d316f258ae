package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PageEntry describes a single tab to open at startup.
type PageEntry struct {
	URL string `yaml:"url"`
}

// StartPagesConfig is the top-level YAML configuration for startup tabs.
// The first entry becomes the active tab.
type StartPagesConfig struct {
	Pages []PageEntry `yaml:"pages"`
}

// LoadStartPages reads and validates a start-pages YAML file. Returns an
// os.ErrNotExist-wrapped error if the file is absent (caller silently
// falls back to the single start URL in that case).
func LoadStartPages(path string) (*StartPagesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("start_pages config: %w", err)
	}
	var cfg StartPagesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("start_pages config: %w", err)
	}
	if len(cfg.Pages) < 1 {
		return nil, fmt.Errorf("start_pages config: at least one page entry is required")
	}
	for i, p := range cfg.Pages {
		if p.URL == "" {
			return nil, fmt.Errorf("start_pages config: pages[%d] missing url", i)
		}
	}
	return &cfg, nil
}
