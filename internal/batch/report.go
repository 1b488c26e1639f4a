package batch

import (
	"slices"
	"time"
)

// FileOutcome is the result of one file. Err is nil on success. Skipped
// files were never attempted because their unit's folder could not be
// created.
type FileOutcome struct {
	Unit      string
	LocalPath string
	FileName  string
	Size      int64
	ItemID    string
	Elapsed   time.Duration
	Attempts  int
	Verified  bool
	Skipped   bool
	Err       error

	seq int
}

// Succeeded reports whether the file reached the drive.
func (f FileOutcome) Succeeded() bool { return f.Err == nil && !f.Skipped }

// Report is the tally of a run.
type Report struct {
	RunID       string
	Units       int
	EmptyUnits  int
	FolderFails int
	Succeeded   int
	Failed      int
	Skipped     int
	Bytes       int64
	Elapsed     time.Duration
	Outcomes    []FileOutcome
}

// Files returns the number of files seen.
func (r *Report) Files() int { return r.Succeeded + r.Failed + r.Skipped }

// HasFailures reports whether any file did not upload.
func (r *Report) HasFailures() bool { return r.Failed > 0 || r.Skipped > 0 }

func (r *Report) add(o FileOutcome) {
	switch {
	case o.Skipped:
		r.Skipped++
	case o.Err != nil:
		r.Failed++
	default:
		r.Succeeded++
		r.Bytes += o.Size
	}

	r.Outcomes = append(r.Outcomes, o)
}

// sortOutcomes restores input order after a parallel run.
func (r *Report) sortOutcomes() {
	slices.SortStableFunc(r.Outcomes, func(a, b FileOutcome) int { return a.seq - b.seq })
}
