package api

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFleetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	content := `tag: api
count: 3
os_family: ubuntu
min_cores: 2
destroy_on_error: false
labels:
  team: infra
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	spec, err := LoadFleetFile(path)
	if err != nil {
		t.Fatalf("LoadFleetFile: %v", err)
	}
	if spec.Tag != "api" || spec.Count != 3 || spec.OSFamily != "ubuntu" || spec.MinCores != 2 {
		t.Fatalf("unexpected spec %+v", spec)
	}
	if spec.CleanupOnError() {
		t.Fatal("destroy_on_error: false must be honoured")
	}
	if spec.Labels["team"] != "infra" {
		t.Fatalf("unexpected labels %v", spec.Labels)
	}
}

func TestFleetSpecDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	if err := os.WriteFile(path, []byte("tag: web\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	spec, err := LoadFleetFile(path)
	if err != nil {
		t.Fatalf("LoadFleetFile: %v", err)
	}
	if spec.Count != 1 || !spec.CleanupOnError() {
		t.Fatalf("unexpected defaults %+v", spec)
	}
	if _, err := LoadFleetFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
