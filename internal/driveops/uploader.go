package driveops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tonimelisma/onedrive-uploader/internal/graph"
)

// Uploader defaults.
const (
	DefaultChunkSize      = 10 * graph.ChunkAlignment // 3.125 MiB
	defaultRetryBaseDelay = 2 * time.Second
	defaultCancelTimeout  = 10 * time.Second
)

// UploaderConfig tunes a ChunkedUploader. Zero values select defaults.
type UploaderConfig struct {
	// ChunkSize must be a positive multiple of 320 KiB.
	ChunkSize int64
	// ChunkRetries is how many times a failed transfer is resumed
	// automatically before giving up. 0 disables automatic resume.
	ChunkRetries int
	// RetryBaseDelay is the first backoff between automatic resumes.
	RetryBaseDelay time.Duration
	// CancelTimeout bounds the best-effort session delete issued when an
	// upload is interrupted.
	CancelTimeout time.Duration
	// StallTimeout fails a chunk when its request neither takes body bytes
	// nor produces a response for this long. 0 disables the check.
	StallTimeout time.Duration
	// ConnectTimeout is added to StallTimeout before the first body byte
	// is taken, so connection setup is not mistaken for a stall.
	ConnectTimeout time.Duration
	// VerifyContent re-reads each completed file and compares its
	// QuickXorHash with the one the drive reports.
	VerifyContent bool

	Classifier ResponseClassifier
	Limiter    *BandwidthLimiter
	Progress   *ProgressDispatcher
}

// UploadResult describes a completed upload.
type UploadResult struct {
	ItemID   string
	Name     string
	Size     int64
	Chunks   int64
	Elapsed  time.Duration
	Attempts int
	// Verified is set when the drive's content hash matched the local file.
	Verified bool
}

// ChunkedUploader transfers local files through resumable upload sessions.
// Chunks of one session are always sent in order, one at a time; separate
// sessions may run concurrently.
type ChunkedUploader struct {
	api        SessionAPI
	cfg        UploaderConfig
	classifier ResponseClassifier
	logger     *slog.Logger

	// nowFunc measures elapsed time. Tests override it.
	nowFunc func() time.Time
}

// NewChunkedUploader validates cfg and creates an uploader.
func NewChunkedUploader(api SessionAPI, cfg UploaderConfig, logger *slog.Logger) (*ChunkedUploader, error) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	if err := validateChunkSize(cfg.ChunkSize); err != nil {
		return nil, err
	}

	if cfg.ChunkRetries < 0 {
		return nil, fmt.Errorf("driveops: chunk retries must be >= 0, got %d", cfg.ChunkRetries)
	}

	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}

	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = defaultCancelTimeout
	}

	classifier := cfg.Classifier
	if classifier == nil {
		classifier = GraphClassifier{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ChunkedUploader{
		api:        api,
		cfg:        cfg,
		classifier: classifier,
		logger:     logger,
		nowFunc:    time.Now,
	}, nil
}

// OpenSession asks the server for an upload session for a file of
// totalBytes bytes named fileName inside folder. Errors wrap
// ErrSessionCreateFailure.
func (u *ChunkedUploader) OpenSession(
	ctx context.Context, folder FolderHandle, fileName string, totalBytes int64,
) (*UploadSession, error) {
	name := normalizeName(fileName)
	s := newSession(name, totalBytes, u.cfg.ChunkSize)

	if totalBytes <= 0 {
		_ = s.transition(StateFailed)
		return nil, fmt.Errorf("%w: %q: zero-byte files cannot use an upload session", ErrSessionCreateFailure, name)
	}

	gs, err := u.api.CreateUploadSession(ctx, folder.RemoteID, name)
	if err != nil {
		_ = s.transition(StateFailed)
		return nil, fmt.Errorf("%w: %q: %w", ErrSessionCreateFailure, name, err)
	}

	if gs.UploadURL == "" {
		_ = s.transition(StateFailed)
		return nil, fmt.Errorf("%w: %q: %w", ErrSessionCreateFailure, name, graph.ErrNoUploadURL)
	}

	s.URL = gs.UploadURL
	s.ExpiresAt = gs.ExpirationTime

	if err := s.transition(StateSessionOpened); err != nil {
		return nil, err
	}

	u.logger.Info("upload session opened",
		slog.String("file", name),
		slog.String("folder", folder.Name),
		slog.Int64("size", totalBytes),
		slog.Int64("chunk_size", u.cfg.ChunkSize),
	)

	return s, nil
}

// UploadFile streams filePath into s, starting at the session's
// acknowledged offset. On a rejected chunk the session is Failed locally
// but stays open server-side, so it can be resumed; with ChunkRetries > 0
// that resume happens automatically. When ctx is canceled the server-side
// session is deleted before returning.
func (u *ChunkedUploader) UploadFile(ctx context.Context, filePath string, s *UploadSession) (*UploadResult, error) {
	var res *UploadResult

	attempts := 0
	current := s
	backoff := retry.WithMaxRetries(uint64(u.cfg.ChunkRetries), retry.NewExponential(u.cfg.RetryBaseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		if attempts > 1 {
			u.logger.Warn("resuming failed upload",
				slog.String("file", s.FileName),
				slog.Int("attempt", attempts),
				slog.Int64("offset", current.Offset()),
			)

			next, rerr := u.reopen(ctx, current)
			if rerr != nil {
				return retryable(ctx, rerr)
			}

			current = next
		}

		var terr error

		res, terr = u.transfer(ctx, filePath, current)

		return retryable(ctx, terr)
	})
	if err != nil {
		// Canceled during backoff: the server session is still open.
		st := current.State()
		if ctx.Err() != nil && st != StateCancelled && st != StateCompleted {
			u.cancelDetached(ctx, current)
			return nil, fmt.Errorf("driveops: upload of %s canceled: %w", s.FileName, ctx.Err())
		}

		return nil, err
	}

	res.Attempts = attempts

	return res, nil
}

// retryable marks err for another resume attempt when one could help.
func retryable(ctx context.Context, err error) error {
	if err != nil && retryableUploadErr(ctx, err) {
		return retry.RetryableError(err)
	}

	return err
}

// Resume continues an interrupted transfer from the first byte the server
// still expects. prev may be in any state; a new session value reopened
// from the same URL is used. Bytes already acknowledged are never re-sent.
func (u *ChunkedUploader) Resume(ctx context.Context, filePath string, prev *UploadSession) (*UploadResult, error) {
	next, err := u.reopen(ctx, prev)
	if err != nil {
		return nil, err
	}

	return u.UploadFile(ctx, filePath, next)
}

// reopen queries the server for the session's next expected offset.
func (u *ChunkedUploader) reopen(ctx context.Context, prev *UploadSession) (*UploadSession, error) {
	st, err := u.api.QueryUploadSession(ctx, prev.URL)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) || errors.Is(err, graph.ErrGone) {
			return nil, fmt.Errorf("%w: %s: %w", ErrSessionExpired, prev.FileName, err)
		}

		return nil, fmt.Errorf("driveops: querying upload session for %s: %w", prev.FileName, err)
	}

	offset, err := ParseNextExpected(st.NextExpectedRanges)
	if err != nil {
		return nil, fmt.Errorf("driveops: resuming %s: %w", prev.FileName, err)
	}

	expires := st.ExpirationTime
	if expires.IsZero() {
		expires = prev.ExpiresAt
	}

	u.logger.Info("reopened upload session",
		slog.String("file", prev.FileName),
		slog.Int64("offset", offset),
		slog.Int64("size", prev.TotalBytes),
	)

	return ReopenSession(prev.URL, prev.FileName, prev.TotalBytes, prev.ChunkSize, offset, expires)
}

// transfer sends the remaining chunks of s once, without retry.
func (u *ChunkedUploader) transfer(ctx context.Context, filePath string, s *UploadSession) (*UploadResult, error) {
	start := u.nowFunc()

	f, err := os.Open(filePath)
	if err != nil {
		_ = s.transition(StateFailed)
		return nil, fmt.Errorf("driveops: opening %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		_ = s.transition(StateFailed)
		return nil, fmt.Errorf("driveops: stat %s: %w", filePath, err)
	}

	if info.Size() != s.TotalBytes {
		_ = s.transition(StateFailed)
		return nil, fmt.Errorf("%w: %s is %d bytes, session expects %d", ErrFileChanged, filePath, info.Size(), s.TotalBytes)
	}

	if err := s.transition(StateUploading); err != nil {
		return nil, err
	}

	plan := PlanChunks(s.TotalBytes, s.ChunkSize, s.Offset())
	if len(plan) == 0 {
		_ = s.transition(StateFailed)

		return nil, &ChunkUploadError{
			FileName: s.FileName, Total: s.TotalBytes,
			Reason: "no bytes left to send but the server has not completed the file",
		}
	}

	totalChunks := plan[len(plan)-1].Index + 1
	sent := plan[0].Index

	for i, chunk := range plan {
		if ctx.Err() != nil {
			return nil, u.interrupted(ctx, s)
		}

		body := u.cfg.Limiter.WrapReader(ctx, io.NewSectionReader(f, chunk.Start, chunk.Len()))
		resp, upErr := u.sendChunk(ctx, s.URL, body, chunk, s.TotalBytes)

		if ctx.Err() != nil {
			return nil, u.interrupted(ctx, s)
		}

		verdict := u.classifier.Classify(resp, upErr)
		last := i == len(plan)-1

		if verdict.Outcome == OutcomeAccepted && verdict.NextExpected >= 0 && verdict.NextExpected != chunk.End+1 {
			return nil, u.offsetMismatch(s, chunk, verdict.NextExpected)
		}

		if verdict.Outcome != OutcomeRejected {
			s.advance(chunk.End + 1)
			sent++
		}

		u.cfg.Progress.Publish(ChunkProgress{
			FileName:    s.FileName,
			BytesSent:   s.Offset(),
			TotalBytes:  s.TotalBytes,
			ChunksSent:  sent,
			TotalChunks: totalChunks,
			Done:        verdict.Outcome == OutcomeComplete,
		})

		switch verdict.Outcome {
		case OutcomeComplete:
			if err := s.transition(StateCompleted); err != nil {
				return nil, err
			}

			res := &UploadResult{
				ItemID:   verdict.ItemID,
				Name:     verdict.ItemName,
				Size:     s.TotalBytes,
				Chunks:   sent,
				Elapsed:  u.nowFunc().Sub(start),
				Attempts: 1,
			}

			if !last {
				u.logger.Warn("server completed upload before the final chunk",
					slog.String("file", s.FileName),
					slog.Int64("chunk", chunk.Index),
				)
			}

			if u.cfg.VerifyContent {
				if err := u.verify(filePath, s.FileName, verdict.QuickXorHash, res); err != nil {
					return nil, err
				}
			}

			u.logger.Info("upload complete",
				slog.String("file", s.FileName),
				slog.Int64("size", s.TotalBytes),
				slog.Duration("elapsed", res.Elapsed),
			)

			return res, nil

		case OutcomeAccepted:
			if last {
				_ = s.transition(StateFailed)

				return nil, &ChunkUploadError{
					FileName: s.FileName, Chunk: chunk, Total: s.TotalBytes,
					StatusCode: http.StatusAccepted,
					Reason:     "final chunk accepted but upload not completed",
				}
			}

			if err := s.transition(StateUploading); err != nil {
				return nil, err
			}

		default:
			_ = s.transition(StateFailed)

			cerr := &ChunkUploadError{
				FileName: s.FileName, Chunk: chunk, Total: s.TotalBytes,
				Reason: verdict.Reason, ResumeAt: chunk.Start, Err: upErr,
			}
			if resp != nil {
				cerr.StatusCode = resp.StatusCode
			}

			u.logger.Warn("chunk rejected",
				slog.String("file", s.FileName),
				slog.Int64("chunk", chunk.Index),
				slog.Int("status", cerr.StatusCode),
				slog.String("reason", verdict.Reason),
			)

			return nil, cerr
		}
	}

	// Unreachable: the final chunk either completes or fails above.
	_ = s.transition(StateFailed)

	return nil, &ChunkUploadError{FileName: s.FileName, Total: s.TotalBytes, Reason: "upload ended without completion"}
}

// offsetMismatch fails the transfer when a 202 names a next offset other
// than the following chunk's start. The session is moved to the server's
// offset so a resume starts there.
func (u *ChunkedUploader) offsetMismatch(s *UploadSession, chunk ChunkRange, expected int64) error {
	s.resync(expected)
	_ = s.transition(StateFailed)

	u.logger.Warn("server expects a different offset than the next chunk",
		slog.String("file", s.FileName),
		slog.Int64("expected", expected),
		slog.Int64("next", chunk.End+1),
	)

	return &ChunkUploadError{
		FileName: s.FileName, Chunk: chunk, Total: s.TotalBytes,
		StatusCode: http.StatusAccepted,
		Reason:     fmt.Sprintf("server expects byte %d next", expected),
		ResumeAt:   expected,
	}
}

// sendChunk issues one chunk PUT, bounded by the stall timeout when one is
// configured.
func (u *ChunkedUploader) sendChunk(
	ctx context.Context, url string, body io.Reader, chunk ChunkRange, total int64,
) (*graph.ChunkResponse, error) {
	if u.cfg.StallTimeout <= 0 {
		return u.api.UploadChunk(ctx, url, body, chunk.Start, chunk.Len(), total)
	}

	cctx, watched, stop := watchStall(ctx, body, u.cfg.StallTimeout, u.cfg.ConnectTimeout)
	resp, err := u.api.UploadChunk(cctx, url, watched, chunk.Start, chunk.Len(), total)
	stalled := watched.Stalled()
	stop()

	if err != nil && stalled && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: no progress on bytes %d-%d for %s",
			ErrChunkStalled, chunk.Start, chunk.End, u.cfg.StallTimeout)
	}

	return resp, err
}

// verify compares the drive's hash of a completed file with the local
// file. Only a mismatch is an error; a missing remote hash or an unreadable
// local file leaves res unverified.
func (u *ChunkedUploader) verify(filePath, fileName, remote string, res *UploadResult) error {
	if remote == "" {
		u.logger.Debug("no content hash in completion response", slog.String("file", fileName))
		return nil
	}

	ok, local, err := VerifyQuickXorHash(filePath, remote)
	if err != nil {
		u.logger.Warn("could not hash uploaded file",
			slog.String("file", fileName),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if !ok {
		u.logger.Error("content hash mismatch",
			slog.String("file", fileName),
			slog.String("local", local),
			slog.String("remote", remote),
		)

		return fmt.Errorf("%w: %s (local %s, remote %s)", ErrContentMismatch, fileName, local, remote)
	}

	res.Verified = true

	return nil
}

// interrupted handles context cancellation mid-transfer: the server session
// is deleted on a detached context before the error is returned.
func (u *ChunkedUploader) interrupted(ctx context.Context, s *UploadSession) error {
	u.cancelDetached(ctx, s)

	return fmt.Errorf("driveops: upload of %s canceled: %w", s.FileName, ctx.Err())
}

// cancelDetached runs CancelSession with a fresh deadline that ignores the
// cancellation of ctx. Failures are only logged.
func (u *ChunkedUploader) cancelDetached(ctx context.Context, s *UploadSession) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.cfg.CancelTimeout)
	defer cancel()

	if err := u.CancelSession(cctx, s); err != nil {
		u.logger.Warn("failed to cancel upload session",
			slog.String("file", s.FileName),
			slog.String("error", err.Error()),
		)
	}
}

// CancelSession deletes the server-side session. It is best effort: the
// local session is marked Cancelled even when the request fails, and the
// error (wrapping ErrCancelFailure) is for logging only. Completed sessions
// are left alone.
func (u *ChunkedUploader) CancelSession(ctx context.Context, s *UploadSession) error {
	switch s.State() {
	case StateCompleted, StateCancelled:
		return nil
	case StateCreated:
		_ = s.transition(StateFailed)
		return nil
	case StateSessionOpened, StateUploading:
		_ = s.transition(StateCancelled)
	case StateFailed:
		// Terminal locally, but a rejected chunk leaves the server session open.
	}

	if err := u.api.CancelUploadSession(ctx, s.URL); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCancelFailure, s.FileName, err)
	}

	u.logger.Info("upload session canceled", slog.String("file", s.FileName))

	return nil
}

// UploadEmptyFile creates a zero-byte file inside folder with a single
// PUT, since an empty body cannot be described by a Content-Range.
func (u *ChunkedUploader) UploadEmptyFile(
	ctx context.Context, folder FolderHandle, fileName string,
) (*UploadResult, error) {
	start := u.nowFunc()
	name := normalizeName(fileName)

	item, err := u.api.SimpleUpload(ctx, folder.RemoteID, name, http.NoBody, 0)
	if err != nil {
		return nil, fmt.Errorf("driveops: uploading empty file %q: %w", name, err)
	}

	u.cfg.Progress.Publish(ChunkProgress{FileName: name, Done: true})

	return &UploadResult{
		ItemID:   item.ID,
		Name:     item.Name,
		Elapsed:  u.nowFunc().Sub(start),
		Attempts: 1,
	}, nil
}

// retryableUploadErr reports whether an automatic resume could help.
func retryableUploadErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var cerr *ChunkUploadError
	if errors.As(err, &cerr) && cerr.StatusCode == http.StatusInsufficientStorage {
		return false
	}

	switch {
	case errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrFileChanged),
		errors.Is(err, ErrContentMismatch),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, graph.ErrAuthFailure),
		errors.Is(err, graph.ErrQuotaExceeded),
		errors.Is(err, os.ErrNotExist):
		return false
	default:
		return true
	}
}
