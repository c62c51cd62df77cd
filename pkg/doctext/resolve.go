package doctext

import (
	"os"
	"path/filepath"
)

// Resolve locates a document's file on disk. State files record paths
// relative to directories that move between machines, so the literal
// path is tried first, then the path relative to each base directory,
// then just the file name under each base.
func Resolve(pathValue string, bases []string) (string, bool) {
	if pathValue == "" {
		return "", false
	}

	var candidates []string
	candidates = append(candidates, pathValue)
	if !filepath.IsAbs(pathValue) {
		for _, base := range bases {
			candidates = append(candidates, filepath.Join(base, pathValue))
		}
	}
	name := filepath.Base(pathValue)
	for _, base := range bases {
		candidates = append(candidates, filepath.Join(base, name))
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		resolved, err := filepath.Abs(candidate)
		if err != nil {
			resolved = candidate
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		if info, err := os.Stat(resolved); err == nil && info.Mode().IsRegular() {
			return resolved, true
		}
	}
	return "", false
}
