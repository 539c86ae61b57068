package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HCLOUD_TOKEN", "")
	t.Setenv("FLOTILLA_PROVIDER", "")
	if err := os.MkdirAll(filepath.Join(dir, "flotilla"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := `providers:
  default: hetzner
  hetzner:
    location: nbg1
    server_type: cx22
defaults:
  concurrency: 4
  unit_timeout_seconds: 300
  naming_prefix: fleet
catalog:
  ttl_seconds: 60
`
	if err := os.WriteFile(filepath.Join(dir, "flotilla", "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	secrets := "# tokens\nexport HCLOUD_TOKEN=\"from-secrets\"\n"
	if err := os.WriteFile(filepath.Join(dir, "flotilla", "secrets.env"), []byte(secrets), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Providers.Default != "hetzner" || cfg.Providers.Hetzner.Location != "nbg1" {
		t.Fatalf("unexpected providers %+v", cfg.Providers)
	}
	if cfg.Defaults.Concurrency != 4 || cfg.Defaults.NamingPrefix != "fleet" || cfg.Catalog.TTLSeconds != 60 {
		t.Fatalf("unexpected defaults %+v", cfg.Defaults)
	}
	if cfg.Providers.Hetzner.Token != "from-secrets" {
		t.Fatalf("expected token from secrets.env, got %q", cfg.Providers.Hetzner.Token)
	}

	t.Setenv("HCLOUD_TOKEN", "from-env")
	t.Setenv("FLOTILLA_PROVIDER", "local")
	cfg, err = LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Providers.Hetzner.Token != "from-env" || cfg.Providers.Default != "local" {
		t.Fatalf("environment must override, got %q %q", cfg.Providers.Hetzner.Token, cfg.Providers.Default)
	}
	if opts := OptionsFromConfig(cfg, zerolog.Nop(), nil); len(opts) != 5 {
		t.Fatalf("expected 5 options, got %d", len(opts))
	}
}

func TestLoadConfigMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if _, err := LoadConfig(""); err != nil {
		t.Fatalf("missing default config must not fail: %v", err)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing explicit config must fail")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("providers: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}
