package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// defaultModel is the fixture used when no file matches the requested model.
const defaultModel = "default"

// fixtureExts are the reply file extensions, in lookup order.
var fixtureExts = []string{".json", ".md", ".txt"}

// numberedFileRe matches files like "gemini-2.5-pro.1.md", "default.2.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)$`)

// fixtures maps a model name to its ordered replies.
type fixtures map[string][]string

// loadFixtures reads reply files from dir.
//
// For each model, replies are ordered:
//  1. Numbered files (model.1.md, model.2.md, ...) in numeric order
//  2. Base file (model.md) appended as the final fallback
//
// Files ending in .json must hold valid JSON; .md and .txt files are served
// verbatim, so they can wrap JSON in prose or code fences the way a real
// model does. Files under hidden directories are skipped.
func loadFixtures(dir string) (fixtures, error) {
	baseFiles := make(map[string]string)
	numberedFiles := make(map[string]map[int]string)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(d.Name())
		if !isFixtureExt(ext) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if ext == ".json" && !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}

		stem := strings.TrimSuffix(d.Name(), ext)
		if m := numberedFileRe.FindStringSubmatch(stem); m != nil {
			index, _ := strconv.Atoi(m[2])
			if numberedFiles[m[1]] == nil {
				numberedFiles[m[1]] = make(map[int]string)
			}
			numberedFiles[m[1]][index] = string(data)
			return nil
		}
		baseFiles[stem] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(fixtures)
	for model, numbered := range numberedFiles {
		indices := make([]int, 0, len(numbered))
		for idx := range numbered {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			out[model] = append(out[model], numbered[idx])
		}
	}
	for model, base := range baseFiles {
		out[model] = append(out[model], base)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return out, nil
}

func isFixtureExt(ext string) bool {
	for _, e := range fixtureExts {
		if ext == e {
			return true
		}
	}
	return false
}

// lookup resolves a model to its replies: the exact name, then the name
// without a "mock-" prefix, then the default fixture. The returned key is
// the one the replies were found under.
func (f fixtures) lookup(model string) (string, []string, bool) {
	for _, key := range []string{model, strings.TrimPrefix(model, "mock-"), defaultModel} {
		if seq, ok := f[key]; ok && key != "" {
			return key, seq, true
		}
	}
	return "", nil, false
}

// pick returns the reply for a 0-based call index; past the end the last
// reply repeats.
func pick(seq []string, index int) string {
	if index < len(seq) {
		return seq[index]
	}
	return seq[len(seq)-1]
}
