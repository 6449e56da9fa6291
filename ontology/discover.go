package ontology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileName is the conventional ontology document name.
const FileName = "ontology.json"

// skippedDirs are never searched for ontologies.
var skippedDirs = map[string]bool{
	"node_modules": true,
	"target":       true,
	"dist":         true,
}

// Discover returns every ontology document under root, sorted. Hidden
// directories and build output directories are skipped.
func Discover(root string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(root), "**/"+FileName, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		return nil, fmt.Errorf("discover ontologies under %s: %w", root, err)
	}

	var out []string
	for _, rel := range matches {
		if skipped(rel) {
			continue
		}
		out = append(out, filepath.Join(root, filepath.FromSlash(rel)))
	}
	sort.Strings(out)
	return out, nil
}

func skipped(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if strings.HasPrefix(dir, ".") || skippedDirs[dir] {
			return true
		}
	}
	return false
}
