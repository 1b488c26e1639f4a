package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	dir := t.TempDir()

	movie := filepath.Join(dir, "Heat (1995).mkv")
	writeSized(t, movie, 1)

	show := filepath.Join(dir, "Show S01")
	for _, n := range []string{"ep02.mkv", "ep01.mkv", "ep01.srt", "README", ".hidden.mkv"} {
		writeSized(t, filepath.Join(show, n), 1)
	}

	require.NoError(t, os.Mkdir(filepath.Join(show, "extras.d"), 0o700))

	units, err := Classify([]string{movie, show + "/"}, "Media/Movies", "Media/TV")
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, UploadUnit{
		FolderName:       "Heat (1995)",
		RemoteParentPath: "Media/Movies",
		Files:            []string{movie},
		Kind:             KindMovie,
	}, units[0])

	assert.Equal(t, "Show S01", units[1].FolderName)
	assert.Equal(t, "Media/TV", units[1].RemoteParentPath)
	assert.Equal(t, KindSeries, units[1].Kind)
	assert.Equal(t, []string{
		filepath.Join(show, "ep01.mkv"),
		filepath.Join(show, "ep01.srt"),
		filepath.Join(show, "ep02.mkv"),
	}, units[1].Files)
}

func TestClassify_EmptyDirectoryGivesEmptyUnit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Nothing")
	require.NoError(t, os.Mkdir(dir, 0o700))

	units, err := Classify([]string{dir}, "M", "T")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Empty(t, units[0].Files)
}

func TestClassify_RejectsWholeBatch(t *testing.T) {
	good := filepath.Join(t.TempDir(), "a.mkv")
	writeSized(t, good, 1)

	_, err := Classify([]string{good, filepath.Join(t.TempDir(), "missing")}, "M", "T")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClassify_RejectsSpecialFiles(t *testing.T) {
	if _, err := os.Stat(os.DevNull); err != nil {
		t.Skip("no null device")
	}

	_, err := Classify([]string{os.DevNull}, "M", "T")
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestUnitKindString(t *testing.T) {
	assert.Equal(t, "movie", KindMovie.String())
	assert.Equal(t, "series", KindSeries.String())
	assert.Equal(t, "manifest", KindManifest.String())
}
