// Package tokenfile reads and writes the access-token cache file:
//
//	{"accessToken": {"token": "...", "expire": 1700000000, "otherTokenData": {...}}}
//
// It is a leaf package with no knowledge of OAuth2 or Graph; callers convert
// a Record to and from their own token type.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the cache directory.
const DirPerms = 0o700

// Record is one cached access token. Expire is absolute, in epoch seconds.
type Record struct {
	Token          string         `json:"token"`
	Expire         int64          `json:"expire"`
	OtherTokenData map[string]any `json:"otherTokenData,omitempty"`
}

// File is the on-disk format of the cache.
type File struct {
	AccessToken *Record `json:"accessToken"`
}

// ErrCorrupt is returned when the file exists but cannot be used.
var ErrCorrupt = errors.New("tokenfile: corrupt token cache")

// Load reads the cache at path. Returns (nil, nil) if the file does not
// exist. A file that is unreadable, not JSON, or lacks a token returns an
// error wrapping ErrCorrupt (read errors are wrapped as-is).
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrCorrupt, path, err)
	}

	if tf.AccessToken == nil || tf.AccessToken.Token == "" {
		return nil, fmt.Errorf("%w: %s has no accessToken.token", ErrCorrupt, path)
	}

	return tf.AccessToken, nil
}

// Save writes rec to path atomically (write-to-temp, fsync, rename) with
// 0600 permissions. A concurrent reader sees either the old or the new
// file, never a partial one. Never logs token values.
func Save(path string, rec *Record) error {
	data, err := json.MarshalIndent(File{AccessToken: rec}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".tokenCache-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeAndSync(tmp, data); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// writeAndSync writes data to f, flushes it to stable storage and closes it.
// f is closed on every path.
func writeAndSync(f *os.File, data []byte) error {
	if err := f.Chmod(FilePerms); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	return nil
}

// Remove deletes the cache file. A missing file is not an error.
func Remove(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return true, nil
}
