package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "upload.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
units:
  - folder: Heat (1995)
    parent: Media/Movies
    files: [/data/heat.mkv, subs/heat.srt]
  - folder: Show
    files: []
`)

	units, err := LoadManifest(path, "Media/Other")
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, "Heat (1995)", units[0].FolderName)
	assert.Equal(t, "Media/Movies", units[0].RemoteParentPath)
	assert.Equal(t, []string{"/data/heat.mkv", filepath.Join(filepath.Dir(path), "subs/heat.srt")}, units[0].Files)
	assert.Equal(t, KindManifest, units[0].Kind)

	assert.Equal(t, "Media/Other", units[1].RemoteParentPath)
	assert.Empty(t, units[1].Files)
}

func TestLoadManifest_Errors(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "none.yml"), "")
	assert.Error(t, err)

	_, err = LoadManifest(writeManifest(t, "units:\n  - folder: A\n    colour: red\n"), "")
	assert.Error(t, err, "unknown keys are rejected")

	_, err = LoadManifest(writeManifest(t, "units:\n  - parent: X\n  - folder: ' '\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unit 1: folder is required")
	assert.Contains(t, err.Error(), "unit 2: folder is required")
}
