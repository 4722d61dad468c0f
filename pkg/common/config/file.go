package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type EntomologySection struct {
	FedStatuses     []string `yaml:"fed_statuses"`
	MetricsCacheTTL string   `yaml:"metrics_cache_ttl"`
}

type FileOverlay struct {
	Entomology EntomologySection `yaml:"entomology"`

	cacheTTL time.Duration
}

func LoadEntomologyFile(path string) (FileOverlay, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return FileOverlay{}, fmt.Errorf("reading config file: %w", err)
	}

	var overlay FileOverlay
	if err := yaml.Unmarshal(content, &overlay); err != nil {
		return FileOverlay{}, fmt.Errorf("parsing config file: %w", err)
	}
	if raw := overlay.Entomology.MetricsCacheTTL; raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return FileOverlay{}, fmt.Errorf("invalid metrics_cache_ttl %q: %w", raw, err)
		}
		overlay.cacheTTL = ttl
	}
	return overlay, nil
}

func (o FileOverlay) Apply(cfg *Config) {
	if len(o.Entomology.FedStatuses) > 0 {
		cfg.FedStatuses = append([]string(nil), o.Entomology.FedStatuses...)
	}
	if o.cacheTTL > 0 {
		cfg.MetricsCacheTTL = o.cacheTTL
	}
}
