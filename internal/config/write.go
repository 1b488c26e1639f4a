package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	configFilePermissions = 0o600
	configDirPermissions  = 0o700
)

// ErrConfigExists is returned by CreateDefaultConfig when the target file
// is already present.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate lists every setting as a commented-out default so users
// can discover options without reading docs.
const configTemplate = `# onedrive-uploader configuration

[auth]
client_id = %q
# client_secret = ""
# tenant = "common"
# redirect_url = "https://login.microsoftonline.com/common/oauth2/nativeclient"
# scopes = ["Files.ReadWrite.All", "offline_access"]
# token_cache = "cache/tokenCache.json"

[upload]
# Remote parents for movie files and series directories.
# movie_path = "Movies"
# tv_path = "TV Shows"

# Must be a multiple of 320KiB, at most 60MiB.
# chunk_size = "3200KiB"

# parallel_uploads = 1
# bandwidth_limit = "0"
# chunk_retries = 0
# verify_content = true
# ledger = "uploads.db"

[logging]
# log_level = "info"
# log_format = "auto"

[network]
# connect_timeout = "10s"
# data_timeout = "60s"
`

// CreateDefaultConfig writes the commented template with clientID filled
// in. The write is atomic and parent directories are created as needed.
func CreateDefaultConfig(path, clientID string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	slog.Info("creating config file", "path", path)

	return atomicWriteFile(path, []byte(fmt.Sprintf(configTemplate, clientID)))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it over the target. The config may hold a client
// secret, so the file is private to the owner.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
