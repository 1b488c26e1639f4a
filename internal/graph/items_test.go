package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePathSegments(t *testing.T) {
	assert.Equal(t, "Media/TV%20Shows/Season%20%231", encodePathSegments("Media/TV Shows/Season #1"))
	assert.Equal(t, "plain", encodePathSegments("plain"))
}

func TestChildrenPath(t *testing.T) {
	assert.Equal(t, "/me/drive/root/children", childrenPath(""))
	assert.Equal(t, "/me/drive/root/children", childrenPath("/"))
	assert.Equal(t, "/me/drive/root:/Media/Movies:/children", childrenPath("/Media/Movies/"))
}

func TestCreateFolderByPath_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/me/drive/root:/Media/Movies:/children", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Heat (1995)", body["name"])
		assert.Equal(t, "rename", body["@microsoft.graph.conflictBehavior"])
		assert.Contains(t, body, "folder")

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{
			"id": "folder-1",
			"name": "Heat (1995) 1",
			"createdDateTime": "2024-06-01T12:00:00Z",
			"parentReference": {"id": "movies-id"},
			"folder": {"childCount": 0},
			"createdBy": {"user": {"displayName": "Alex"}}
		}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	item, err := client.CreateFolderByPath(context.Background(), "Media/Movies", "Heat (1995)")
	require.NoError(t, err)

	assert.Equal(t, "folder-1", item.ID)
	assert.Equal(t, "Heat (1995) 1", item.Name)
	assert.Equal(t, "movies-id", item.ParentID)
	assert.True(t, item.IsFolder)
	assert.True(t, item.HasCreator)
	assert.Equal(t, "Alex", item.CreatedBy)
	assert.Equal(t, 2024, item.CreatedAt.Year())
}

func TestCreateFolderByPath_NoCreator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "f", "name": "x", "folder": {}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	item, err := client.CreateFolderByPath(context.Background(), "", "x")
	require.NoError(t, err)
	assert.False(t, item.HasCreator)
	assert.True(t, item.CreatedAt.IsZero())
}

func TestCreateFolderByPath_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.CreateFolderByPath(context.Background(), "Media", "x")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateFolderByPath_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{not json`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.CreateFolderByPath(context.Background(), "Media", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding create folder response")
}

func TestMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me", r.URL.Path)
		fmt.Fprint(w, `{"id":"u1","displayName":"Alex","userPrincipalName":"alex@example.com","mail":null}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	u, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "Alex", u.DisplayName)
	assert.Equal(t, "alex@example.com", u.UserPrincipalName)
	assert.Empty(t, u.Mail)
}
