package driveops

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tonimelisma/onedrive-uploader/internal/graph"
)

// State is the lifecycle position of an UploadSession.
type State int

// Session states. Completed, Failed and Cancelled are terminal.
const (
	StateCreated State = iota
	StateSessionOpened
	StateUploading
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSessionOpened:
		return "session_opened"
	case StateUploading:
		return "uploading"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// transitions lists the legal successor states. Uploading loops on itself
// once per chunk.
var transitions = map[State][]State{
	StateCreated:       {StateSessionOpened, StateFailed},
	StateSessionOpened: {StateUploading, StateFailed, StateCancelled},
	StateUploading:     {StateUploading, StateCompleted, StateFailed, StateCancelled},
}

// UploadSession is one resumable server-side upload of one file. A resumed
// transfer uses a new UploadSession value reopened from the same URL.
type UploadSession struct {
	URL        string // pre-authenticated; NEVER log
	FileName   string
	TotalBytes int64
	ChunkSize  int64
	ExpiresAt  time.Time

	mu     sync.Mutex
	state  State
	offset int64 // bytes acknowledged by the server
}

// newSession returns a session in StateCreated.
func newSession(fileName string, totalBytes, chunkSize int64) *UploadSession {
	return &UploadSession{
		FileName:   fileName,
		TotalBytes: totalBytes,
		ChunkSize:  chunkSize,
		state:      StateCreated,
	}
}

// ReopenSession rebuilds a session for an existing upload URL, positioned
// at offset. The result is in StateSessionOpened.
func ReopenSession(
	url, fileName string, totalBytes, chunkSize, offset int64, expiresAt time.Time,
) (*UploadSession, error) {
	if err := validateChunkSize(chunkSize); err != nil {
		return nil, err
	}

	if totalBytes <= 0 || offset < 0 || offset > totalBytes {
		return nil, fmt.Errorf("driveops: reopening session: offset %d outside file of %d bytes", offset, totalBytes)
	}

	return &UploadSession{
		URL:        url,
		FileName:   fileName,
		TotalBytes: totalBytes,
		ChunkSize:  chunkSize,
		ExpiresAt:  expiresAt,
		state:      StateSessionOpened,
		offset:     offset,
	}, nil
}

// State returns the current lifecycle state.
func (s *UploadSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Offset returns the number of bytes the server has acknowledged.
func (s *UploadSession) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.offset
}

func (s *UploadSession) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(transitions[s.state], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}

	s.state = to

	return nil
}

// advance records server acknowledgement up to (exclusive) offset. The
// offset never moves backwards.
func (s *UploadSession) advance(offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset > s.offset {
		s.offset = offset
	}
}

// resync replaces the offset with the server's own view of it, which may
// lag behind what was sent.
func (s *UploadSession) resync(offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offset = offset
}

// ChunkRange is one contiguous slice of a file. End is inclusive.
type ChunkRange struct {
	Index int64
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r ChunkRange) Len() int64 { return r.End - r.Start + 1 }

// PlanChunks splits [from, total) into consecutive chunks of chunkSize
// bytes; the last chunk holds the remainder (or a full chunk when the
// remainder is zero). Chunk indices continue the numbering of a plan that
// started at zero.
func PlanChunks(total, chunkSize, from int64) []ChunkRange {
	if total <= 0 || chunkSize <= 0 || from >= total {
		return nil
	}

	if from < 0 {
		from = 0
	}

	ranges := make([]ChunkRange, 0, (total-from+chunkSize-1)/chunkSize)
	index := from / chunkSize

	for start := from; start < total; start += chunkSize {
		end := min(start+chunkSize, total) - 1
		ranges = append(ranges, ChunkRange{Index: index, Start: start, End: end})
		index++
	}

	return ranges
}

// validateChunkSize enforces the Graph requirement that every non-final
// chunk is a positive multiple of 320 KiB.
func validateChunkSize(chunkSize int64) error {
	if chunkSize <= 0 || chunkSize%graph.ChunkAlignment != 0 {
		return fmt.Errorf("driveops: chunk size %d is not a positive multiple of %d", chunkSize, graph.ChunkAlignment)
	}

	return nil
}
