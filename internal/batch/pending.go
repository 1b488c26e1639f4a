package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/tonimelisma/onedrive-uploader/internal/driveops"
	"github.com/tonimelisma/onedrive-uploader/internal/graph"
	"github.com/tonimelisma/onedrive-uploader/internal/ledger"
)

// ErrNoLedger is returned by the pending-session operations when the
// orchestrator was built without a ledger.
var ErrNoLedger = errors.New("batch: no upload ledger configured")

// selectPending returns the ledger rows for paths in the order given, or
// every row, oldest first, when paths is empty. Paths without a row are
// skipped.
func (o *Orchestrator) selectPending(ctx context.Context, paths []string) ([]ledger.PendingSession, error) {
	if o.ledger == nil {
		return nil, ErrNoLedger
	}

	if len(paths) == 0 {
		return o.ledger.ListPending(ctx)
	}

	var (
		out  []ledger.PendingSession
		seen []string
	)

	for _, path := range paths {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}

		if slices.Contains(seen, path) {
			continue
		}

		seen = append(seen, path)

		p, err := o.ledger.Pending(ctx, path)
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		out = append(out, *p)
	}

	return out, nil
}

// ResumePending resumes sessions recorded by earlier runs from the first
// byte the server still expects. Successful and expired sessions leave the
// ledger; a session whose local file changed is cancelled server-side and
// dropped. Other failures keep the row for a later attempt.
func (o *Orchestrator) ResumePending(ctx context.Context, paths []string) (*Report, error) {
	pending, err := o.selectPending(ctx, paths)
	if err != nil {
		return nil, err
	}

	start := o.nowFunc()
	r := &run{Orchestrator: o, id: o.newRunID()}
	r.report = &Report{RunID: r.id, Units: len(pending)}

	for _, p := range pending {
		if ctx.Err() != nil {
			r.report.Elapsed = o.nowFunc().Sub(start)
			return r.report, fmt.Errorf("batch: resume canceled: %w", ctx.Err())
		}

		out := r.resumeOne(ctx, p, r.nextSeq())
		r.finish(out)

		if out.Err != nil && fatal(ctx, out.Err) {
			r.report.Elapsed = o.nowFunc().Sub(start)
			return r.report, fmt.Errorf("batch: aborting resume: %w", out.Err)
		}
	}

	r.report.Elapsed = o.nowFunc().Sub(start)

	return r.report, nil
}

func (r *run) resumeOne(ctx context.Context, p ledger.PendingSession, seq int) FileOutcome {
	start := r.nowFunc()
	folder := driveops.FolderHandle{RemoteID: p.FolderID, Name: p.FolderName}
	out := FileOutcome{Unit: p.FolderName, LocalPath: p.LocalPath, FileName: p.FileName, Size: p.TotalBytes, seq: seq}

	prev, err := driveops.ReopenSession(p.SessionURL, p.FileName, p.TotalBytes, p.ChunkSize, p.Offset, p.ExpiresAt)
	if err != nil {
		out.Err = err
		r.forget(ctx, p)

		return r.book(ctx, out, folder)
	}

	if err := checkUnchanged(p); err != nil {
		out.Err = err

		if cerr := r.uploader.CancelSession(ctx, prev); cerr != nil {
			r.logger.Warn("could not cancel stale session",
				slog.String("file", p.FileName),
				slog.String("error", cerr.Error()),
			)
		}

		r.forget(ctx, p)

		return r.book(ctx, out, folder)
	}

	r.logger.Info("resuming upload",
		slog.String("file", p.FileName),
		slog.String("folder", p.FolderName),
		slog.Int64("offset", p.Offset),
		slog.Int64("size", p.TotalBytes),
	)

	res, err := r.uploader.Resume(ctx, p.LocalPath, prev)
	out.Elapsed = r.nowFunc().Sub(start)

	switch {
	case err == nil:
		out.ItemID = res.ItemID
		out.Attempts = res.Attempts
		out.Verified = res.Verified
		r.forget(ctx, p)

	case errors.Is(err, driveops.ErrSessionExpired), errors.Is(err, driveops.ErrContentMismatch):
		out.Err = err
		r.forget(ctx, p)

	default:
		out.Err = err
		r.advancePending(ctx, p, err)
	}

	return r.book(ctx, out, folder)
}

// checkUnchanged verifies the local file still has the size and mtime it had
// when the session was opened.
func checkUnchanged(p ledger.PendingSession) error {
	info, err := os.Stat(p.LocalPath)
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}

	if info.Size() != p.TotalBytes || info.ModTime().UnixNano() != p.Mtime {
		return fmt.Errorf("%w: %s", driveops.ErrFileChanged, p.LocalPath)
	}

	return nil
}

// CancelPending deletes the server-side sessions recorded in the ledger and
// forgets them. Sessions the server no longer knows are forgotten too. It
// returns how many rows were removed; failures are joined.
func (o *Orchestrator) CancelPending(ctx context.Context, paths []string) (int, error) {
	pending, err := o.selectPending(ctx, paths)
	if err != nil {
		return 0, err
	}

	var (
		removed int
		errs    []error
	)

	for _, p := range pending {
		s, err := driveops.ReopenSession(p.SessionURL, p.FileName, p.TotalBytes, p.ChunkSize, p.Offset, p.ExpiresAt)
		if err == nil {
			err = o.uploader.CancelSession(ctx, s)
		}

		if err != nil && !errors.Is(err, graph.ErrNotFound) && !errors.Is(err, graph.ErrGone) {
			errs = append(errs, fmt.Errorf("%s: %w", p.LocalPath, err))
			continue
		}

		if err := o.ledger.DeletePending(ctx, p.LocalPath); err != nil {
			errs = append(errs, err)
			continue
		}

		o.logger.Info("pending upload cancelled", slog.String("file", p.FileName))

		removed++
	}

	return removed, errors.Join(errs...)
}

// advancePending records how far a failed resume got, so the next attempt
// and the sessions listing start where the server left off.
func (r *run) advancePending(ctx context.Context, p ledger.PendingSession, cause error) {
	var cerr *driveops.ChunkUploadError
	if !errors.As(cause, &cerr) || cerr.ResumeAt <= p.Offset {
		return
	}

	if err := r.ledger.UpdateOffset(context.WithoutCancel(ctx), p.LocalPath, cerr.ResumeAt); err != nil {
		r.logger.Warn("could not update pending offset",
			slog.String("file", p.FileName),
			slog.String("error", err.Error()),
		)
	}
}

// forget removes a row; failures are only logged.
func (r *run) forget(ctx context.Context, p ledger.PendingSession) {
	if err := r.ledger.DeletePending(context.WithoutCancel(ctx), p.LocalPath); err != nil {
		r.logger.Warn("could not remove pending session",
			slog.String("file", p.FileName),
			slog.String("error", err.Error()),
		)
	}
}
