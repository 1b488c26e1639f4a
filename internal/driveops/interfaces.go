package driveops

import (
	"context"
	"io"

	"github.com/tonimelisma/onedrive-uploader/internal/graph"
)

// TokenProvider produces a fresh access token, interactively if needed.
// prev is the last known token (possibly expired, possibly nil); providers
// may use it for a silent refresh. Satisfied by *graph.AuthCodeProvider.
type TokenProvider interface {
	AcquireToken(ctx context.Context, prev *graph.AccessToken) (*graph.AccessToken, error)
}

// FolderCreator creates a folder under a parent addressed by path.
// Satisfied by *graph.Client.
type FolderCreator interface {
	CreateFolderByPath(ctx context.Context, parentPath, name string) (*graph.Item, error)
}

// SessionAPI is the upload-session surface of the Graph API. Satisfied by
// *graph.Client.
type SessionAPI interface {
	CreateUploadSession(ctx context.Context, folderID, name string) (*graph.UploadSession, error)
	UploadChunk(
		ctx context.Context, uploadURL string, chunk io.Reader, offset, length, total int64,
	) (*graph.ChunkResponse, error)
	QueryUploadSession(ctx context.Context, uploadURL string) (*graph.UploadSessionStatus, error)
	CancelUploadSession(ctx context.Context, uploadURL string) error
	SimpleUpload(ctx context.Context, folderID, name string, r io.Reader, size int64) (*graph.Item, error)
}
