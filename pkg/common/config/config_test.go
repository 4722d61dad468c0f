package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetStringSliceEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected []string
	}{
		{"splits and trims", "Fed, Blood-fed ,", []string{"Fed", "Blood-fed"}},
		{"falls back when blank", " , ", []string{"default"}},
		{"falls back when unset", "", []string{"default"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_SLICE", tc.value)
			got := getStringSliceEnv("TEST_SLICE", []string{"default"})
			if len(got) != len(tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
			for i := range got {
				if got[i] != tc.expected[i] {
					t.Fatalf("expected %v, got %v", tc.expected, got)
				}
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultPageSize != 20 || cfg.MaxPageSize != 100 {
		t.Fatalf("unexpected page sizes %d/%d", cfg.DefaultPageSize, cfg.MaxPageSize)
	}
	if len(cfg.FedStatuses) != 2 {
		t.Fatalf("expected default fed statuses, got %v", cfg.FedStatuses)
	}
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short jwt secret")
	}
}

func TestEntomologyFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectorwatch.yaml")
	content := "entomology:\n  fed_statuses: [\"Fed\", \"Blood-fed\", \"Half-gravid\"]\n  metrics_cache_ttl: 90s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("JWT_SECRET", "")
	t.Setenv("CONFIG_FILE", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.FedStatuses) != 3 || cfg.FedStatuses[2] != "Half-gravid" {
		t.Fatalf("expected fed statuses from file, got %v", cfg.FedStatuses)
	}
	if cfg.MetricsCacheTTL != 90*time.Second {
		t.Fatalf("expected ttl 90s, got %s", cfg.MetricsCacheTTL)
	}
}

func TestEntomologyFileRejectsBadTTL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("entomology:\n  metrics_cache_ttl: soon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadEntomologyFile(path); err == nil {
		t.Fatal("expected error for invalid ttl")
	}
}

func TestLoadRejectsBlankFedStatus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blank.yaml")
	if err := os.WriteFile(path, []byte("entomology:\n  fed_statuses: [\" \"]\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for blank fed status")
	}
}

func TestValidateTrimsFedStatuses(t *testing.T) {
	cfg := &Config{
		ResolutionWriteTimeout: time.Second,
		DefaultPageSize:        20,
		MaxPageSize:            100,
		FedStatuses:            []string{" Fed ", "Blood-fed"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FedStatuses[0] != "Fed" {
		t.Fatalf("expected trimmed status, got %q", cfg.FedStatuses[0])
	}
}
