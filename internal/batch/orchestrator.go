package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/onedrive-uploader/internal/driveops"
	"github.com/tonimelisma/onedrive-uploader/internal/graph"
	"github.com/tonimelisma/onedrive-uploader/internal/ledger"
)

// Folders creates the remote folder of a unit.
type Folders interface {
	EnsureFolder(ctx context.Context, name, parentPath string) (driveops.FolderHandle, error)
}

// Uploader moves file bytes into a remote folder. Implemented by
// *driveops.ChunkedUploader.
type Uploader interface {
	OpenSession(ctx context.Context, folder driveops.FolderHandle, fileName string, totalBytes int64) (*driveops.UploadSession, error)
	UploadFile(ctx context.Context, filePath string, s *driveops.UploadSession) (*driveops.UploadResult, error)
	UploadEmptyFile(ctx context.Context, folder driveops.FolderHandle, fileName string) (*driveops.UploadResult, error)
	Resume(ctx context.Context, filePath string, prev *driveops.UploadSession) (*driveops.UploadResult, error)
	CancelSession(ctx context.Context, s *driveops.UploadSession) error
}

// Ledger persists sessions left open by failed transfers and the outcome
// history. Implemented by *ledger.Ledger.
type Ledger interface {
	SavePending(ctx context.Context, p ledger.PendingSession) error
	ListPending(ctx context.Context) ([]ledger.PendingSession, error)
	Pending(ctx context.Context, localPath string) (*ledger.PendingSession, error)
	UpdateOffset(ctx context.Context, localPath string, offset int64) error
	DeletePending(ctx context.Context, localPath string) error
	RecordOutcome(ctx context.Context, e ledger.HistoryEntry) error
}

// Config holds the collaborators of an Orchestrator. Ledger, OnFileDone and
// Logger are optional.
type Config struct {
	Folders  Folders
	Uploader Uploader
	Ledger   Ledger

	// Workers bounds concurrent file uploads. 0 or 1 uploads strictly in
	// order, one file at a time.
	Workers int

	// OnFileDone is called once per file as soon as its outcome is known.
	// Calls are serialized.
	OnFileDone func(FileOutcome)

	Logger *slog.Logger
}

// Orchestrator runs batches of upload units.
type Orchestrator struct {
	folders    Folders
	uploader   Uploader
	ledger     Ledger
	workers    int
	onFileDone func(FileOutcome)
	logger     *slog.Logger

	nowFunc  func() time.Time
	newRunID func() string
}

// run is the mutable state of one Run call.
type run struct {
	*Orchestrator

	id     string
	mu     sync.Mutex // guards report and serializes OnFileDone
	report *Report
	seq    int // input order of the next file; main loop only
}

// NewOrchestrator creates an Orchestrator from cfg.
func NewOrchestrator(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		folders:    cfg.Folders,
		uploader:   cfg.Uploader,
		ledger:     cfg.Ledger,
		workers:    max(cfg.Workers, 1),
		onFileDone: cfg.OnFileDone,
		logger:     logger,
		nowFunc:    time.Now,
		newRunID:   func() string { return uuid.New().String() },
	}
}

// fatal reports whether err must stop the whole run. A 401 means the server
// rejected the bearer token, which every later call would reuse.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, graph.ErrAuthFailure) || errors.Is(err, graph.ErrUnauthorized) || ctx.Err() != nil
}

// Run uploads units in order. Empty units are skipped; a unit whose folder
// cannot be created is skipped while the rest continue; a failed file does
// not stop its siblings. An authentication failure or context cancellation
// aborts the run. The returned Report is always non-nil.
func (o *Orchestrator) Run(ctx context.Context, units []UploadUnit) (*Report, error) {
	start := o.nowFunc()
	r := &run{Orchestrator: o, id: o.newRunID()}
	report := &Report{RunID: r.id, Units: len(units)}
	r.report = report

	o.logger.Info("upload run started",
		slog.String("run_id", r.id),
		slog.Int("units", len(units)),
		slog.Int("workers", o.workers),
	)

	var err error
	if o.workers <= 1 {
		err = r.sequential(ctx, units)
	} else {
		err = r.parallel(ctx, units)
	}

	report.sortOutcomes()
	report.Elapsed = o.nowFunc().Sub(start)

	o.logger.Info("upload run finished",
		slog.String("run_id", report.RunID),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("elapsed", report.Elapsed),
	)

	return report, err
}

func (r *run) sequential(ctx context.Context, units []UploadUnit) error {
	for _, unit := range units {
		folder, ok, err := r.prepareUnit(ctx, unit)
		if err != nil {
			return err
		}

		if !ok {
			continue
		}

		for _, path := range unit.Files {
			if ctx.Err() != nil {
				return fmt.Errorf("batch: run canceled: %w", ctx.Err())
			}

			out := r.uploadOne(ctx, folder, path, r.nextSeq())
			r.finish(out)

			if out.Err != nil && fatal(ctx, out.Err) {
				return fmt.Errorf("batch: aborting run: %w", out.Err)
			}
		}
	}

	return nil
}

// parallel creates folders in unit order and feeds files to a bounded
// pool. A fatal file error cancels the remaining work.
func (r *run) parallel(ctx context.Context, units []UploadUnit) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	var stopErr error

units:
	for _, unit := range units {
		folder, ok, err := r.prepareUnit(gctx, unit)
		if err != nil {
			stopErr = err
			break
		}

		if !ok {
			continue
		}

		for _, path := range unit.Files {
			if gctx.Err() != nil {
				break units
			}

			seq := r.nextSeq()

			g.Go(func() error {
				out := r.uploadOne(gctx, folder, path, seq)
				r.finish(out)

				if out.Err != nil && fatal(gctx, out.Err) {
					return fmt.Errorf("batch: aborting run: %w", out.Err)
				}

				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if stopErr != nil {
		return stopErr
	}

	if ctx.Err() != nil {
		return fmt.Errorf("batch: run canceled: %w", ctx.Err())
	}

	return nil
}

// prepareUnit creates the unit's folder. ok is false when the unit is
// skipped; err is set only when the run must stop.
func (r *run) prepareUnit(ctx context.Context, unit UploadUnit) (driveops.FolderHandle, bool, error) {
	if ctx.Err() != nil {
		return driveops.FolderHandle{}, false, fmt.Errorf("batch: run canceled: %w", ctx.Err())
	}

	if len(unit.Files) == 0 {
		r.logger.Info("skipping empty unit", slog.String("folder", unit.FolderName))

		r.mu.Lock()
		r.report.EmptyUnits++
		r.mu.Unlock()

		return driveops.FolderHandle{}, false, nil
	}

	folder, err := r.folders.EnsureFolder(ctx, unit.FolderName, unit.RemoteParentPath)
	if err == nil {
		return folder, true, nil
	}

	if fatal(ctx, err) {
		return driveops.FolderHandle{}, false, fmt.Errorf("batch: aborting run: %w", err)
	}

	r.logger.Warn("skipping unit: folder creation failed",
		slog.String("folder", unit.FolderName),
		slog.String("parent", unit.RemoteParentPath),
		slog.String("error", err.Error()),
	)

	r.mu.Lock()
	r.report.FolderFails++
	r.mu.Unlock()

	intended := driveops.FolderHandle{Name: unit.FolderName, ParentPath: unit.RemoteParentPath}

	for _, path := range unit.Files {
		r.finish(r.book(ctx, FileOutcome{
			Unit:      unit.FolderName,
			LocalPath: path,
			FileName:  filepath.Base(path),
			Skipped:   true,
			Err:       err,
			seq:       r.nextSeq(),
		}, intended))
	}

	return driveops.FolderHandle{}, false, nil
}

// uploadOne transfers a single file and books its outcome in the ledger.
func (r *run) uploadOne(ctx context.Context, folder driveops.FolderHandle, path string, seq int) FileOutcome {
	start := r.nowFunc()
	out := FileOutcome{Unit: folder.Name, LocalPath: path, FileName: filepath.Base(path), seq: seq}

	info, err := os.Stat(path)
	if err != nil {
		out.Err = fmt.Errorf("batch: %w", err)
		return r.book(ctx, out, folder)
	}

	if !info.Mode().IsRegular() {
		out.Err = fmt.Errorf("%w: %s", ErrUnsupportedInput, path)
		return r.book(ctx, out, folder)
	}

	out.Size = info.Size()

	r.logger.Info("uploading file",
		slog.String("file", out.FileName),
		slog.String("folder", folder.Name),
		slog.Int64("size", out.Size),
	)

	var res *driveops.UploadResult

	if out.Size == 0 {
		res, err = r.uploader.UploadEmptyFile(ctx, folder, out.FileName)
	} else {
		var s *driveops.UploadSession

		s, err = r.uploader.OpenSession(ctx, folder, out.FileName, out.Size)
		if err == nil {
			res, err = r.uploader.UploadFile(ctx, path, s)
			if err != nil {
				r.rememberPending(ctx, folder, path, info, s, err)
			}
		}
	}

	out.Elapsed = r.nowFunc().Sub(start)

	if err != nil {
		out.Err = err
		r.logger.Warn("file upload failed",
			slog.String("file", out.FileName),
			slog.String("error", err.Error()),
		)

		return r.book(ctx, out, folder)
	}

	out.ItemID = res.ItemID
	out.Attempts = res.Attempts
	out.Verified = res.Verified

	return r.book(ctx, out, folder)
}

// rememberPending keeps a still-open server session so it can be resumed
// later. Cancelled, expired and stale sessions are not kept.
func (r *run) rememberPending(
	ctx context.Context, folder driveops.FolderHandle,
	path string, info os.FileInfo, s *driveops.UploadSession, cause error,
) {
	if r.ledger == nil || s.URL == "" || ctx.Err() != nil {
		return
	}

	if errors.Is(cause, driveops.ErrSessionExpired) || errors.Is(cause, driveops.ErrFileChanged) ||
		s.State() == driveops.StateCancelled || s.State() == driveops.StateCompleted {
		return
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	err = r.ledger.SavePending(ctx, ledger.PendingSession{
		LocalPath:  abs,
		RunID:      r.id,
		FolderID:   folder.RemoteID,
		FolderName: remoteFolderPath(folder.ParentPath, folder.Name),
		FileName:   s.FileName,
		SessionURL: s.URL,
		TotalBytes: s.TotalBytes,
		ChunkSize:  s.ChunkSize,
		Offset:     s.Offset(),
		Mtime:      info.ModTime().UnixNano(),
		ExpiresAt:  s.ExpiresAt,
	})
	if err != nil {
		r.logger.Warn("could not record pending session",
			slog.String("file", s.FileName),
			slog.String("error", err.Error()),
		)

		return
	}

	r.logger.Info("upload session kept for resume",
		slog.String("file", s.FileName),
		slog.Int64("offset", s.Offset()),
	)
}

// book writes the history row for out. Ledger errors are only logged.
func (r *run) book(ctx context.Context, out FileOutcome, folder driveops.FolderHandle) FileOutcome {
	if r.ledger == nil {
		return out
	}

	entry := ledger.HistoryEntry{
		RunID:        r.id,
		LocalPath:    out.LocalPath,
		RemoteFolder: remoteFolderPath(folder.ParentPath, folder.Name),
		FileName:     out.FileName,
		ItemID:       out.ItemID,
		Size:         out.Size,
		Elapsed:      out.Elapsed,
		Status:       ledger.StatusCompleted,
	}

	switch {
	case out.Skipped:
		entry.Status = ledger.StatusSkipped
		entry.Error = out.Err.Error()
	case out.Err != nil:
		entry.Status = ledger.StatusFailed
		entry.Error = out.Err.Error()
	}

	// History is written even when the run is being canceled.
	if err := r.ledger.RecordOutcome(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Warn("could not record upload history",
			slog.String("file", out.FileName),
			slog.String("error", err.Error()),
		)
	}

	return out
}

func (r *run) nextSeq() int {
	n := r.seq
	r.seq++

	return n
}

// finish adds out to the report and notifies the observer.
func (r *run) finish(out FileOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.add(out)

	if r.onFileDone != nil {
		r.onFileDone(out)
	}
}

func remoteFolderPath(parent, name string) string {
	parent = driveops.CleanRemotePath(parent)
	if parent == "" {
		return name
	}

	return parent + "/" + name
}
