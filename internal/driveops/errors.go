package driveops

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrTokenNotFound means no usable cached token exists. A corrupt cache
	// file is reported the same way.
	ErrTokenNotFound = errors.New("driveops: no cached access token")

	ErrFolderCreateFailure  = errors.New("driveops: remote folder creation failed")
	ErrSessionCreateFailure = errors.New("driveops: upload session creation failed")
	ErrChunkUploadFailure   = errors.New("driveops: chunk upload failed")
	ErrCancelFailure        = errors.New("driveops: upload session cancel failed")

	// ErrSessionExpired means the server no longer knows an upload session.
	ErrSessionExpired = errors.New("driveops: upload session expired or unknown")

	// ErrFileChanged means the local file no longer matches the session size.
	ErrFileChanged = errors.New("driveops: local file changed since the session was opened")

	// ErrChunkStalled means a chunk request made no progress for the
	// configured stall timeout and was abandoned.
	ErrChunkStalled = errors.New("driveops: chunk transfer stalled")

	// ErrContentMismatch means the drive assembled a file whose
	// QuickXorHash differs from the local file.
	ErrContentMismatch = errors.New("driveops: uploaded content does not match local file")

	// ErrInvalidTransition is returned for an illegal session state change.
	ErrInvalidTransition = errors.New("driveops: invalid session state transition")
)

// ChunkUploadError describes a rejected chunk. It matches
// ErrChunkUploadFailure via errors.Is and unwraps to the transport error,
// if there was one.
type ChunkUploadError struct {
	FileName   string
	Chunk      ChunkRange
	Total      int64
	StatusCode int // 0 when no response was received
	Reason     string
	// ResumeAt is the first byte the server still expects, when known.
	ResumeAt int64
	Err      error
}

func (e *ChunkUploadError) Error() string {
	msg := fmt.Sprintf("driveops: chunk %d (bytes %d-%d/%d) of %s rejected",
		e.Chunk.Index, e.Chunk.Start, e.Chunk.End, e.Total, e.FileName)

	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}

	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ChunkUploadError) Unwrap() error { return e.Err }

// Is reports ErrChunkUploadFailure as a match.
func (e *ChunkUploadError) Is(target error) bool { return target == ErrChunkUploadFailure }
