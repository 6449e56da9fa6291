package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360studio/icl/ontology"
)

// ManifestFile records provenance for every artifact file in a snapshot.
const ManifestFile = "_manifest.json"

type manifest struct {
	Artifacts []manifestEntry `json:"artifacts"`
}

type manifestEntry struct {
	Record
	File string `json:"file"`
}

// FileName returns the snapshot file name for a kind: snake_case plus .json.
func FileName(kind string) string {
	return ontology.SnakeCase(kind) + ".json"
}

// Snapshot writes one JSON file per kind into dir plus a manifest. Every
// file is written to a temporary name first and renamed into place.
func (s *Store) Snapshot(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	m := manifest{}
	used := make(map[string]bool)
	for _, kind := range s.Kinds() {
		rec := s.records[kind]
		name := FileName(kind)
		for i := 2; used[name]; i++ {
			name = fmt.Sprintf("%s_%d.json", ontology.SnakeCase(kind), i)
		}
		used[name] = true

		data, err := json.MarshalIndent(rec.Value, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", kind, err)
		}
		if err := WriteFileAtomic(filepath.Join(dir, name), append(data, '\n')); err != nil {
			return err
		}
		m.Artifacts = append(m.Artifacts, manifestEntry{Record: *rec, File: name})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return WriteFileAtomic(filepath.Join(dir, ManifestFile), append(data, '\n'))
}

// LoadSnapshot rebuilds a store from a directory written by Snapshot. A
// missing directory yields an empty store.
func LoadSnapshot(dir string, topo Topology, opts ...Option) (*Store, error) {
	s := NewStore(topo, opts...)

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	for _, entry := range m.Artifacts {
		raw, err := os.ReadFile(filepath.Join(dir, entry.File))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.File, err)
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("decode %s: %w", entry.File, err)
		}
		rec := entry.Record
		rec.Value = value
		if err := s.Restore(&rec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WriteFileAtomic writes data to path through a temporary file and rename.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
