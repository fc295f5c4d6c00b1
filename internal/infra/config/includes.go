package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// catalogFile is the shape of an included template catalog file.
type catalogFile struct {
	Templates []TemplateConfig `yaml:"templates"`
}

// loadCatalogIncludes reads every template catalog file matched by patterns.
// Relative patterns resolve against baseDir and may not escape it.
func loadCatalogIncludes(patterns []string, baseDir string) ([]TemplateConfig, error) {
	seen := make(map[string]bool)
	var out []TemplateConfig
	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, fmt.Errorf("template includes: abs path %q: %w", p, err)
			}
			if seen[abs] {
				continue
			}
			seen[abs] = true

			templates, err := readCatalogFile(abs)
			if err != nil {
				return nil, err
			}
			out = append(out, templates...)
		}
	}
	return out, nil
}

// resolveIncludePaths resolves a pattern (which may contain globs) relative to baseDir.
// It validates that the resolved path does not escape baseDir.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}

	pattern = filepath.Clean(pattern)

	rel, err := filepath.Rel(baseDir, pattern)
	if err == nil && len(rel) >= 2 && rel[:2] == ".." {
		return nil, fmt.Errorf("template includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("template includes: glob %q: %w", pattern, err)
	}

	if len(matches) == 0 {
		// Literal path: let readCatalogFile report the missing file.
		if !hasMeta(pattern) {
			return []string{pattern}, nil
		}
		return nil, nil
	}

	return matches, nil
}

// hasMeta reports whether the pattern contains any glob metacharacters.
func hasMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

func readCatalogFile(path string) ([]TemplateConfig, error) {
	if err := validatePermissions(path); err != nil {
		return nil, fmt.Errorf("template includes: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("template includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("template includes: parse %q: %w", path, err)
	}
	return f.Templates, nil
}

// mergeCatalog overlays extra onto base. Entries with the same id replace the
// base entry in place; new ids are appended in include order.
func mergeCatalog(base, extra []TemplateConfig) []TemplateConfig {
	idx := make(map[string]int, len(base))
	for i, t := range base {
		idx[t.ID] = i
	}
	for _, t := range extra {
		if i, ok := idx[t.ID]; ok {
			base[i] = t
			continue
		}
		idx[t.ID] = len(base)
		base = append(base, t)
	}
	return base
}
