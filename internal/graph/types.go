package graph

import (
	"net/http"
	"time"
)

// Item represents a OneDrive drive item (file or folder) as returned by
// folder creation and upload completion.
type Item struct {
	ID        string
	Name      string
	ParentID  string
	Size      int64
	IsFolder  bool
	CreatedBy string // display name of the creating identity; empty if absent
	// HasCreator is true when the response carried a createdBy facet. Graph
	// only includes it on a fully materialized item.
	HasCreator bool
	CreatedAt  time.Time
}

// UploadSession is a resumable upload session as returned by
// createUploadSession. UploadURL is pre-authenticated; NEVER log it.
type UploadSession struct {
	UploadURL      string
	ExpirationTime time.Time
}

// UploadSessionStatus is the server's view of an open upload session.
type UploadSessionStatus struct {
	UploadURL          string
	ExpirationTime     time.Time
	NextExpectedRanges []string
}

// ChunkResponse is the raw outcome of one chunk PUT. Interpretation
// (complete, accepted, rejected) belongs to the caller.
type ChunkResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// User is the signed-in account as reported by GET /me.
type User struct {
	ID                string
	DisplayName       string
	UserPrincipalName string
	Mail              string
}
