package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/skulanet/timatalva/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.ListenAddr == "" {
		t.Error("ListenAddr should not be empty")
	}
	if cfg.Defaults.MaxRetries <= 0 {
		t.Errorf("MaxRetries should be > 0, got %d", cfg.Defaults.MaxRetries)
	}
	if cfg.Defaults.WeekFetchInitial <= 0 {
		t.Errorf("WeekFetchInitial should be > 0, got %d", cfg.Defaults.WeekFetchInitial)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "upstream_base_url: \"https://skuli.example.fo\"\n" +
		"listen_addr: \":9090\"\n" +
		"defaults:\n  max_retries: 5\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UpstreamBaseURL != "https://skuli.example.fo" {
		t.Errorf("got UpstreamBaseURL=%q", cfg.UpstreamBaseURL)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("got ListenAddr=%q, want :9090", cfg.ListenAddr)
	}
	if cfg.Defaults.MaxRetries != 5 {
		t.Errorf("got MaxRetries=%d, want 5", cfg.Defaults.MaxRetries)
	}
	// Fields not overridden in the file keep the compiled-in default.
	if cfg.Defaults.WeekFetchInitial != config.DefaultExtractionOptions().WeekFetchInitial {
		t.Errorf("WeekFetchInitial should keep its default when unset in file")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TIMATALVA_UPSTREAM_BASE_URL", "https://env.example.fo")
	t.Setenv("TIMATALVA_LISTEN_ADDR", ":7070")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UpstreamBaseURL != "https://env.example.fo" {
		t.Errorf("got UpstreamBaseURL=%q, want env override to apply", cfg.UpstreamBaseURL)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("got ListenAddr=%q, want env override to apply", cfg.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoad_MissingUpstreamURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9090\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Error("expected error when upstream_base_url is not set")
	}
}

func TestLoad_OutOfRangeFanoutDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "upstream_base_url: \"https://skuli.example.fo\"\n" +
		"defaults:\n  week_fetch_initial: 500\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Error("expected error for week_fetch_initial above the limiter ceiling")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("not: [valid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}
