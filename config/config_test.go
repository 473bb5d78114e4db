package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chunk.Size != 460 {
		t.Errorf("expected Chunk.Size=460, got %d", cfg.Chunk.Size)
	}
	if cfg.Chunk.Overlap != 100 {
		t.Errorf("expected Chunk.Overlap=100, got %d", cfg.Chunk.Overlap)
	}
	if cfg.Index.Dimension != 768 {
		t.Errorf("expected Index.Dimension=768, got %d", cfg.Index.Dimension)
	}
	if cfg.Retrieve.TopKInitial != 20 {
		t.Errorf("expected TopKInitial=20, got %d", cfg.Retrieve.TopKInitial)
	}
	if cfg.Retrieve.TopKRerank != 10 {
		t.Errorf("expected TopKRerank=10, got %d", cfg.Retrieve.TopKRerank)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "kbrag.yaml")

	content := `
chunk:
  size: 256
  overlap: 32
retrieve:
  top_k_initial: 30
source:
  namespace: team/handbook
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Chunk.Size != 256 {
		t.Errorf("expected Chunk.Size=256, got %d", cfg.Chunk.Size)
	}
	if cfg.Chunk.Overlap != 32 {
		t.Errorf("expected Chunk.Overlap=32, got %d", cfg.Chunk.Overlap)
	}
	if cfg.Retrieve.TopKInitial != 30 {
		t.Errorf("expected TopKInitial=30, got %d", cfg.Retrieve.TopKInitial)
	}
	// untouched keys keep their defaults
	if cfg.Retrieve.TopKRerank != 10 {
		t.Errorf("expected TopKRerank=10, got %d", cfg.Retrieve.TopKRerank)
	}
	if cfg.Source.Namespace != "team/handbook" {
		t.Errorf("expected namespace team/handbook, got %q", cfg.Source.Namespace)
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := EnsureDataDir(tmpDir); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(DataDir(tmpDir), "config.yaml")

	content := `
index:
  dimension: 1024
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Index.Dimension != 1024 {
		t.Errorf("expected Dimension=1024, got %d", cfg.Index.Dimension)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Chunk.Size = 0 }},
		{"negative overlap", func(c *Config) { c.Chunk.Overlap = -1 }},
		{"overlap equals size", func(c *Config) { c.Chunk.Overlap = c.Chunk.Size }},
		{"zero dimension", func(c *Config) { c.Index.Dimension = 0 }},
		{"rerank above initial", func(c *Config) { c.Retrieve.TopKRerank = c.Retrieve.TopKInitial + 1 }},
		{"zero initial", func(c *Config) { c.Retrieve.TopKInitial = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	base := cfg.IndexBasePath("/srv/kb")
	expected := filepath.Join("/srv/kb", ".kbrag", "index")
	if base != expected {
		t.Errorf("expected %s, got %s", expected, base)
	}

	cfg.Index.Path = "/data/faiss"
	if got := cfg.IndexBasePath("/srv/kb"); got != "/data/faiss" {
		t.Errorf("configured path should win, got %s", got)
	}

	if got := CatalogPath("/srv/kb"); got != filepath.Join("/srv/kb", ".kbrag", "catalog.db") {
		t.Errorf("unexpected catalog path %s", got)
	}
}
