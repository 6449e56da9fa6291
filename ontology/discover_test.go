package ontology

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{
		"ontology.json",
		"web/ontology.json",
		"packages/api/ontology.json",
		".hidden/ontology.json",
		"node_modules/pkg/ontology.json",
		"target/debug/ontology.json",
		"dist/ontology.json",
		"web/notes.json",
	} {
		writeFile(t, root, rel, "[]")
	}

	got, err := Discover(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "ontology.json"),
		filepath.Join(root, "packages", "api", "ontology.json"),
		filepath.Join(root, "web", "ontology.json"),
	}, got)
}
