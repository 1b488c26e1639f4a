package batch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifestFile is the YAML shape of a scripted run:
//
//	units:
//	  - folder: Heat (1995)
//	    parent: Media/Movies
//	    files: [/data/heat.mkv, /data/heat.srt]
type manifestFile struct {
	Units []manifestUnit `yaml:"units"`
}

type manifestUnit struct {
	Folder string   `yaml:"folder"`
	Parent string   `yaml:"parent"`
	Files  []string `yaml:"files"`
}

// LoadManifest reads units from a YAML manifest. Relative file paths are
// resolved against the manifest's directory; defaultParent fills in units
// that name no parent. All problems are reported together.
func LoadManifest(path, defaultParent string) ([]UploadUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("batch: reading manifest: %w", err)
	}

	var mf manifestFile

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&mf); err != nil {
		return nil, fmt.Errorf("batch: parsing manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	units := make([]UploadUnit, 0, len(mf.Units))

	var errs []error

	for i, mu := range mf.Units {
		if strings.TrimSpace(mu.Folder) == "" {
			errs = append(errs, fmt.Errorf("unit %d: folder is required", i+1))
			continue
		}

		parent := mu.Parent
		if parent == "" {
			parent = defaultParent
		}

		files := make([]string, 0, len(mu.Files))

		for _, f := range mu.Files {
			if !filepath.IsAbs(f) {
				f = filepath.Join(base, f)
			}

			files = append(files, f)
		}

		units = append(units, UploadUnit{
			FolderName:       mu.Folder,
			RemoteParentPath: parent,
			Files:            files,
			Kind:             KindManifest,
		})
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("batch: invalid manifest %s: %w", path, errors.Join(errs...))
	}

	return units, nil
}
