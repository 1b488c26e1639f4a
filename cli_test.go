package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-uploader/internal/tokenfile"
	"github.com/tonimelisma/onedrive-uploader/pkg/quickxorhash"
)

// fakeDrive serves the Graph endpoints the CLI touches. rejectOnce makes
// the chunk starting at that offset fail once with 400.
type fakeDrive struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	folders    []string
	received   map[string]int64 // upload id -> bytes acknowledged
	content    map[string][]byte
	names      map[string]string
	cancelled  []string
	rejectOnce map[int64]bool
	nextID     int
}

func newFakeDrive(t *testing.T) *fakeDrive {
	t.Helper()

	d := &fakeDrive{
		t:          t,
		received:   map[string]int64{},
		content:    map[string][]byte{},
		names:      map[string]string{},
		rejectOnce: map[int64]bool{},
	}
	d.srv = httptest.NewServer(http.HandlerFunc(d.serve))
	t.Cleanup(d.srv.Close)

	return d
}

func (d *fakeDrive) serve(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/me":
		fmt.Fprint(w, `{"id":"user-1","displayName":"Test User","mail":"test@example.com"}`)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/children"):
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // test server

		parent := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/me/drive/root:/"), ":/children")
		d.folders = append(d.folders, parent+"|"+body.Name)
		d.nextID++

		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"folder-%d","name":%q,"folder":{},"createdBy":{"user":{"displayName":"Test"}}}`, d.nextID, body.Name)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":/createUploadSession"):
		ref := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/me/drive/items/"), ":/createUploadSession")
		_, name, _ := strings.Cut(ref, ":/")
		d.nextID++
		id := fmt.Sprint(d.nextID)
		d.names[id] = name

		fmt.Fprintf(w, `{"uploadUrl":%q,"expirationDateTime":"2030-01-01T00:00:00Z"}`, d.srv.URL+"/upload/"+id)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/upload/"):
		id := strings.TrimPrefix(r.URL.Path, "/upload/")
		fmt.Fprintf(w, `{"expirationDateTime":"2030-01-01T00:00:00Z","nextExpectedRanges":["%d-"]}`, d.received[id])

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/upload/"):
		d.cancelled = append(d.cancelled, strings.TrimPrefix(r.URL.Path, "/upload/"))
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/upload/"):
		d.putChunk(w, r)

	default:
		d.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (d *fakeDrive) putChunk(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/upload/")

	var start, end, total int64
	if _, err := fmt.Sscanf(r.Header.Get("Content-Range"), "bytes %d-%d/%d", &start, &end, &total); err != nil {
		d.t.Errorf("bad Content-Range: %v", err)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		d.t.Errorf("reading chunk: %v", err)
	}

	if d.rejectOnce[start] {
		delete(d.rejectOnce, start)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":"invalidRange","message":"rejected"}}`)

		return
	}

	if d.content[id] == nil {
		d.content[id] = make([]byte, total)
	}

	copy(d.content[id][start:], data)
	d.received[id] = end + 1

	if end+1 < total {
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"nextExpectedRanges":["%d-"]}`, end+1)

		return
	}

	w.WriteHeader(http.StatusCreated)
	h := quickxorhash.New()
	_, _ = h.Write(d.content[id])

	fmt.Fprintf(w, `{"id":"item-%s","name":%q,"size":%d,"createdBy":{"user":{"displayName":"Test"}},`+
		`"file":{"hashes":{"quickXorHash":%q}}}`,
		id, d.names[id], total, base64.StdEncoding.EncodeToString(h.Sum(nil)))
}

// testEnv is a config file pointing at a fakeDrive, with a valid cached
// token and a private ledger.
type testEnv struct {
	drive      *fakeDrive
	dir        string
	configPath string
	tokenPath  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	t.Setenv("ONEDRIVE_UPLOADER_CONFIG", "")
	t.Setenv("ONEDRIVE_UPLOADER_CLIENT_ID", "")
	t.Setenv("ONEDRIVE_UPLOADER_CLIENT_SECRET", "")

	env := &testEnv{drive: newFakeDrive(t), dir: t.TempDir()}
	env.tokenPath = filepath.Join(env.dir, "tokenCache.json")
	env.configPath = filepath.Join(env.dir, "config.toml")

	require.NoError(t, tokenfile.Save(env.tokenPath, &tokenfile.Record{
		Token:  "cached-token",
		Expire: time.Now().Add(time.Hour).Unix(),
	}))

	cfg := fmt.Sprintf(`
[auth]
client_id = "test-client"
token_cache = %q

[graph]
api_root = %q

[upload]
chunk_size = "320KiB"
ledger = %q
`, env.tokenPath, env.drive.srv.URL, filepath.Join(env.dir, "uploads.db"))

	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o600))

	return env
}

// run executes the CLI with --config prepended and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(context.Background())
	t.Logf("stderr:\n%s", stderr.String())

	return stdout.String(), err
}

func writeMedia(t *testing.T, dir, name string, size int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'m'}, size), 0o600))

	return path
}

func TestCLI_UploadMovie(t *testing.T) {
	env := newTestEnv(t)
	movie := writeMedia(t, t.TempDir(), "Heat (1995).mkv", 400*1024)

	out, err := env.run(t, "upload", "--no-progress", movie)
	require.NoError(t, err)

	assert.Equal(t, []string{"Movies|Heat (1995)"}, env.drive.folders)
	assert.Contains(t, out, "Uploaded")
}

func TestCLI_UploadSeriesDirectory(t *testing.T) {
	env := newTestEnv(t)
	show := filepath.Join(t.TempDir(), "Severance S01")
	require.NoError(t, os.Mkdir(show, 0o700))
	writeMedia(t, show, "ep02.mkv", 1000)
	writeMedia(t, show, "ep01.mkv", 1000)

	_, err := env.run(t, "upload", "--no-progress", show)
	require.NoError(t, err)

	assert.Equal(t, []string{"TV Shows|Severance S01"}, env.drive.folders)
	assert.Equal(t, map[string]string{"2": "ep01.mkv", "3": "ep02.mkv"}, env.drive.names)
}

func TestCLI_FailedChunkThenResume(t *testing.T) {
	env := newTestEnv(t)
	movie := writeMedia(t, t.TempDir(), "Ronin (1998).mkv", 400*1024)
	env.drive.rejectOnce[327680] = true

	_, err := env.run(t, "upload", "--no-progress", movie)
	require.ErrorIs(t, err, errIncomplete)

	out, err := env.run(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "Ronin (1998).mkv")
	assert.Contains(t, out, "80%")

	_, err = env.run(t, "resume", "--no-progress")
	require.NoError(t, err)
	assert.Equal(t, int64(400*1024), env.drive.received["2"])

	out, err = env.run(t, "sessions")
	require.NoError(t, err)
	assert.NotContains(t, out, "Ronin")
}

func TestCLI_FailedChunkThenCancel(t *testing.T) {
	env := newTestEnv(t)
	movie := writeMedia(t, t.TempDir(), "Thief (1981).mkv", 400*1024)
	env.drive.rejectOnce[327680] = true

	_, err := env.run(t, "upload", "--no-progress", movie)
	require.ErrorIs(t, err, errIncomplete)

	_, err = env.run(t, "cancel", movie)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, env.drive.cancelled)

	_, err = env.run(t, "cancel", movie)
	require.ErrorIs(t, err, errNoSessions)
}

func TestCLI_Whoami(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Test User (test@example.com)")
	assert.Contains(t, out, "Token: expires")
	assert.Contains(t, out, "from now")
}

func TestCLI_WhoamiExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, tokenfile.Save(env.tokenPath, &tokenfile.Record{Token: "old", Expire: 1}))

	_, err := env.run(t, "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")
}

func TestCLI_Logout(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "logout")
	require.NoError(t, err)
	assert.NoFileExists(t, env.tokenPath)

	_, err = env.run(t, "logout")
	require.NoError(t, err)
}

func TestCLI_UploadArgumentErrors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "upload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to upload")

	_, err = env.run(t, "upload", "--manifest", "m.yaml", "x.mkv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")

	_, err = env.run(t, "upload", "--chunk-size", "100KiB", "x.mkv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload.chunk_size")
}

func TestCLI_ConfigShowAndInit(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `client_id     = "test-client"`)
	assert.Contains(t, out, env.drive.srv.URL)

	fresh := filepath.Join(t.TempDir(), "new.toml")

	var stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", fresh, "config", "init", "--client-id", "new-client"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(&stderr)
	require.NoError(t, cmd.Execute())
	assert.FileExists(t, fresh)
}
