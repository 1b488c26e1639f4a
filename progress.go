package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/tonimelisma/onedrive-uploader/internal/batch"
	"github.com/tonimelisma/onedrive-uploader/internal/driveops"
)

const (
	barWidth    = 40
	barThrottle = 100 * time.Millisecond
)

// terminalUI renders per-file progress bars and outcome lines on one
// writer. Progress arrives on the dispatcher goroutine and outcomes on the
// orchestrator's, so all output goes through mu.
type terminalUI struct {
	mu   sync.Mutex
	w    io.Writer
	bars map[string]*progressbar.ProgressBar // by file name; nil when bars are off
}

func newTerminalUI(w io.Writer, showBars bool) *terminalUI {
	ui := &terminalUI{w: w}
	if showBars {
		ui.bars = make(map[string]*progressbar.ProgressBar)
	}

	return ui
}

// observer returns the ProgressObserver to hand to the uploader, or nil
// when bars are disabled.
func (ui *terminalUI) observer() driveops.ProgressObserver {
	if ui.bars == nil {
		return nil
	}

	return ui
}

// OnProgress implements driveops.ProgressObserver.
func (ui *terminalUI) OnProgress(p driveops.ChunkProgress) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	bar, ok := ui.bars[p.FileName]
	if !ok {
		if p.Done {
			return
		}

		bar = ui.newBar(p)
		ui.bars[p.FileName] = bar
	}

	_ = bar.Set64(p.BytesSent) //nolint:errcheck // rendering only

	if p.Done {
		_ = bar.Finish() //nolint:errcheck // rendering only
		delete(ui.bars, p.FileName)
	}
}

func (ui *terminalUI) newBar(p driveops.ChunkProgress) *progressbar.ProgressBar {
	return progressbar.NewOptions64(p.TotalBytes,
		progressbar.OptionSetDescription(p.FileName),
		progressbar.OptionSetWriter(ui.w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(barWidth),
		progressbar.OptionThrottle(barThrottle),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(ui.w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// fileDone prints the outcome line of one file, clearing any bar still
// drawn for it.
func (ui *terminalUI) fileDone(o batch.FileOutcome) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	if bar, ok := ui.bars[o.FileName]; ok {
		_ = bar.Clear() //nolint:errcheck // rendering only
		delete(ui.bars, o.FileName)
	}

	fmt.Fprintln(ui.w, formatOutcome(o))
}
