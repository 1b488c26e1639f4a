// Package batch drives whole upload runs: it turns input paths into upload
// units and feeds them through folder creation and chunked upload, keeping
// the per-file outcomes.
package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrUnsupportedInput is returned by Classify for a path that is neither a
// regular file nor a directory.
var ErrUnsupportedInput = errors.New("batch: input is neither a file nor a directory")

// UnitKind tells how a unit was derived from its input path.
type UnitKind int

// Unit kinds.
const (
	KindMovie UnitKind = iota
	KindSeries
	KindManifest
)

func (k UnitKind) String() string {
	switch k {
	case KindMovie:
		return "movie"
	case KindSeries:
		return "series"
	case KindManifest:
		return "manifest"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// UploadUnit is one remote folder plus the local files that go into it, in
// upload order. An empty Files list is valid and skipped by the
// orchestrator.
type UploadUnit struct {
	FolderName       string
	RemoteParentPath string
	Files            []string
	Kind             UnitKind
}

// Classify maps each input path to a unit. A regular file becomes a movie
// unit named after its stem under movieParent; a directory becomes a series
// unit named after the directory under tvParent, holding its direct
// children that have an extension. Any other input rejects the whole batch
// before anything is uploaded.
func Classify(paths []string, movieParent, tvParent string) ([]UploadUnit, error) {
	units := make([]UploadUnit, 0, len(paths))

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("batch: %s: %w", p, err)
		}

		switch {
		case info.Mode().IsRegular():
			base := filepath.Base(p)
			units = append(units, UploadUnit{
				FolderName:       strings.TrimSuffix(base, filepath.Ext(base)),
				RemoteParentPath: movieParent,
				Files:            []string{p},
				Kind:             KindMovie,
			})

		case info.IsDir():
			files, err := seriesFiles(p)
			if err != nil {
				return nil, err
			}

			units = append(units, UploadUnit{
				FolderName:       filepath.Base(filepath.Clean(p)),
				RemoteParentPath: tvParent,
				Files:            files,
				Kind:             KindSeries,
			})

		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedInput, p)
		}
	}

	return units, nil
}

// seriesFiles lists the regular files directly inside dir whose names
// contain a dot (hidden files excluded), sorted by name.
func seriesFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("batch: reading %s: %w", dir, err)
	}

	var files []string

	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !strings.Contains(name, ".") {
			continue
		}

		if !e.Type().IsRegular() {
			continue
		}

		files = append(files, filepath.Join(dir, name))
	}

	slices.Sort(files)

	return files, nil
}
