package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeGraph is a minimal in-process Graph API: folder creation, upload
// session creation and chunk PUTs to the sessions it hands out.
type fakeGraph struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	events      []string          // "folder Parent|Name", "session folderID|name", "chunk N a-b/t"
	bearer      []string          // Authorization header of every authenticated request
	chunkAuth   []string          // Authorization header of every chunk PUT (want empty)
	sessions    map[string]string // upload id -> file name
	received    map[string][]byte // upload id -> bytes received
	failFolders map[string]int    // folder name -> HTTP status to answer with
	nextID      int
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()

	g := &fakeGraph{
		t:           t,
		sessions:    map[string]string{},
		received:    map[string][]byte{},
		failFolders: map[string]int{},
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.srv.Close)

	return g
}

func (g *fakeGraph) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/children"):
		g.createFolder(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":/createUploadSession"):
		g.createSession(w, r)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/upload/"):
		g.putChunk(w, r)
	default:
		g.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (g *fakeGraph) createFolder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		g.t.Errorf("decoding folder body: %v", err)
	}

	parent := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/me/drive/root:/"), ":/children")
	if r.URL.Path == "/me/drive/root/children" {
		parent = ""
	}

	g.mu.Lock()
	g.events = append(g.events, "folder "+parent+"|"+body.Name)
	g.bearer = append(g.bearer, r.Header.Get("Authorization"))
	status, fail := g.failFolders[body.Name]
	g.nextID++
	id := fmt.Sprintf("folder-%d", g.nextID)
	g.mu.Unlock()

	if fail {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error":{"code":"accessDenied","message":"nope"}}`)

		return
	}

	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"id":%q,"name":%q,"folder":{},"createdBy":{"user":{"displayName":"Test"}}}`, id, body.Name)
}

func (g *fakeGraph) createSession(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/me/drive/items/"), ":/createUploadSession")
	folderID, name, _ := strings.Cut(ref, ":/")

	g.mu.Lock()
	g.events = append(g.events, "session "+folderID+"|"+name)
	g.bearer = append(g.bearer, r.Header.Get("Authorization"))
	g.nextID++
	id := fmt.Sprintf("%d", g.nextID)
	g.sessions[id] = name
	g.mu.Unlock()

	fmt.Fprintf(w, `{"uploadUrl":%q,"expirationDateTime":"2030-01-01T00:00:00Z"}`, g.srv.URL+"/upload/"+id)
}

func (g *fakeGraph) putChunk(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/upload/")

	var start, end, total int64
	if _, err := fmt.Sscanf(r.Header.Get("Content-Range"), "bytes %d-%d/%d", &start, &end, &total); err != nil {
		g.t.Errorf("bad Content-Range %q: %v", r.Header.Get("Content-Range"), err)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		g.t.Errorf("reading chunk: %v", err)
	}

	g.mu.Lock()
	g.events = append(g.events, fmt.Sprintf("chunk %s %d-%d/%d", id, start, end, total))
	g.chunkAuth = append(g.chunkAuth, r.Header.Get("Authorization"))
	g.received[id] = append(g.received[id], data...)
	name := g.sessions[id]
	g.mu.Unlock()

	if end+1 < total {
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"nextExpectedRanges":["%d-"]}`, end+1)

		return
	}

	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"id":"item-%s","name":%q,"size":%d,"createdBy":{"user":{"displayName":"Test"}}}`, id, name, total)
}

// eventsWithPrefix returns recorded events starting with prefix.
func (g *fakeGraph) eventsWithPrefix(prefix string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []string

	for _, e := range g.events {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}

	return out
}

func (g *fakeGraph) authHeaders() ([]string, []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]string(nil), g.bearer...), append([]string(nil), g.chunkAuth...)
}
