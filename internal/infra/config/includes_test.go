package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTemplateIncludesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "edge.yaml", `
templates:
  - id: edge
    name: Edge
    profiles: [core, edge]
`)
	path := writeConfigFile(t, dir, "setupwiz.yaml", `
templates:
  include:
    - "edge.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.Template("edge"); !ok {
		t.Errorf("edge template not loaded: %+v", cfg.Templates.Catalog)
	}
	// Defaults survive.
	if _, ok := cfg.Template("minimal"); !ok {
		t.Error("default template missing after include")
	}
}

func TestTemplateIncludesGlobOverridesByID(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "templates.d")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, sub, "a.yaml", `
templates:
  - id: minimal
    profiles: [core, logging]
`)
	writeConfigFile(t, sub, "b.yaml", `
templates:
  - id: full
    profiles: [core, logging, monitoring]
`)
	path := writeConfigFile(t, dir, "setupwiz.yaml", `
templates:
  include:
    - "templates.d/*.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	minimal, _ := cfg.Template("minimal")
	if len(minimal.Profiles) != 2 {
		t.Errorf("minimal not overridden: %+v", minimal)
	}
	if _, ok := cfg.Template("full"); !ok {
		t.Error("full template not loaded")
	}
}

func TestTemplateIncludesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "setupwiz.yaml", `
templates:
  include: ["absent.yaml"]
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing include")
	}
	if !strings.Contains(err.Error(), "template includes: read") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTemplateIncludesEmptyGlob(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "setupwiz.yaml", `
templates:
  include: ["nothing/*.yaml"]
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("empty glob should not fail: %v", err)
	}
}

func TestTemplateIncludesPathTraversal(t *testing.T) {
	dir := t.TempDir()
	_, err := resolveIncludePaths("../../etc/passwd", dir)
	if err == nil {
		t.Fatal("expected traversal error")
	}
	if !strings.Contains(err.Error(), "escapes config directory") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHasMeta(t *testing.T) {
	for pattern, want := range map[string]bool{
		"a.yaml":  false,
		"*.yaml":  true,
		"t?.yaml": true,
		"[ab].y":  true,
	} {
		if got := hasMeta(pattern); got != want {
			t.Errorf("hasMeta(%q) = %v, want %v", pattern, got, want)
		}
	}
}
