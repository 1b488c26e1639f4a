package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-uploader/internal/config"
	"github.com/tonimelisma/onedrive-uploader/internal/driveops"
	"github.com/tonimelisma/onedrive-uploader/internal/graph"
)

// A server that never reads the chunk body must not hold the upload
// beyond network.data_timeout.
func TestNewUploader_StalledChunkFails(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cfg := config.DefaultConfig()
	cfg.Network.DataTimeout = "1s"
	cfg.Network.ConnectTimeout = "1s"
	cfg.Upload.ChunkSize = "32000KiB"

	size := cfg.ChunkBytes()
	path := filepath.Join(t.TempDir(), "Heat (1995).mkv")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))

	client := graph.NewClient(srv.URL, newHTTPClient(cfg), nil, nil, "")
	u, err := newUploader(cfg, client, nil, nil)
	require.NoError(t, err)

	s, err := driveops.ReopenSession(srv.URL+"/upload/1", "Heat (1995).mkv", size, size, 0, time.Time{})
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		_, uerr := u.UploadFile(context.Background(), path, s)
		done <- uerr
	}()

	select {
	case err = <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("chunk upload still blocked with data_timeout=1s")
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, driveops.ErrChunkUploadFailure)
	assert.ErrorIs(t, err, driveops.ErrChunkStalled)
	assert.Equal(t, driveops.StateFailed, s.State())
}
