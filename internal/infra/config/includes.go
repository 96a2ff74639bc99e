package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// processIncludes appends the bots and tool servers of every file referenced
// by cfg.Includes. Paths are resolved relative to basePath and may be globs.
// visited holds absolute paths already merged, to detect cycles.
func processIncludes(cfg *MultiBotConfig, basePath string, visited map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}

	includes := cfg.Includes
	cfg.Includes = nil

	for _, pattern := range includes {
		paths, err := resolveIncludePaths(pattern, basePath)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if visited[abs] {
				return fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			visited[abs] = true

			if err := mergeFile(cfg, abs, visited, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveIncludePaths resolves a pattern relative to baseDir. The result
// must stay inside baseDir.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	rel, err := filepath.Rel(baseDir, pattern)
	if err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		// A literal path that does not exist is reported by mergeFile.
		if !strings.ContainsAny(pattern, "*?[") {
			return []string{pattern}, nil
		}
		return nil, nil
	}
	return matches, nil
}

// mergeFile decodes one included file and appends its entries to cfg,
// following nested includes relative to the included file.
func mergeFile(cfg *MultiBotConfig, path string, visited map[string]bool, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var part MultiBotConfig
	if err := yaml.Unmarshal(data, &part); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	if len(part.Includes) > 0 {
		if err := processIncludes(&part, filepath.Dir(path), visited, depth); err != nil {
			return err
		}
	}

	cfg.Bots = append(cfg.Bots, part.Bots...)
	cfg.ToolServers.Servers = append(cfg.ToolServers.Servers, part.ToolServers.Servers...)
	return nil
}
