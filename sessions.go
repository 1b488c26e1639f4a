package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-uploader/internal/ledger"
)

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List upload sessions left open by failed transfers",
		RunE:  runSessions,
	}
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume [paths...]",
		Short: "Resume open upload sessions from the server's next expected byte",
		Long: `Resumes the sessions listed by 'sessions'. Without arguments every open
session is resumed. A file that changed since its session was opened is not
resumed: its session is cancelled and the file must be uploaded again.`,
		RunE: runResume,
	}

	addTransferFlags(cmd)
	cmd.Flags().BoolVar(&flagNoProgress, "no-progress", false, "disable progress bars")

	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [paths...]",
		Short: "Cancel open upload sessions server-side and forget them",
		RunE:  runCancel,
	}
}

func runSessions(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	led, err := ledger.Open(ctx, cc.Cfg.LedgerPath(), cc.Logger)
	if err != nil {
		return fmt.Errorf("opening upload ledger: %w", err)
	}
	defer led.Close()

	pending, err := led.ListPending(ctx)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		cc.Statusf("No open upload sessions.\n")

		return nil
	}

	fmt.Fprintln(cc.Stdout, renderPending(pending, time.Now()))

	return nil
}

// renderPending tabulates ledger rows; now decides which sessions have
// expired.
func renderPending(pending []ledger.PendingSession, now time.Time) string {
	headers := []string{"File", "Folder", "Uploaded", "Size", "Opened", "Expires"}
	rows := make([][]string, 0, len(pending))

	for _, p := range pending {
		uploaded := "0%"
		if p.TotalBytes > 0 {
			uploaded = fmt.Sprintf("%d%%", p.Offset*100/p.TotalBytes)
		}

		expires := "-"

		switch {
		case p.ExpiresAt.IsZero():
		case !p.ExpiresAt.After(now):
			expires = "expired"
		default:
			expires = formatAge(p.ExpiresAt)
		}

		rows = append(rows, []string{
			filepath.Base(p.LocalPath),
			p.FolderName,
			uploaded,
			formatSize(p.TotalBytes),
			formatAge(p.CreatedAt),
			expires,
		})
	}

	return renderTable(headers, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft})
}

func runResume(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	ctx, cancel := shutdownContext(cmd.Context(), cc.Logger)
	defer cancel()

	ui := newTerminalUI(cc.Stderr, showBars(cc))

	eng, err := newEngine(ctx, cc, engineOptions{
		Prompt:     surveyPrompt(cc.Stderr),
		Observer:   ui.observer(),
		OnFileDone: ui.fileDone,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	report, runErr := eng.orch.ResumePending(ctx, args)
	if runErr == nil && report.Files() == 0 {
		if len(args) > 0 {
			return errNoSessions
		}

		cc.Statusf("No open upload sessions to resume.\n")

		return nil
	}

	return finishRun(cc, report, runErr)
}

func runCancel(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	eng, err := newEngine(ctx, cc, engineOptions{Prompt: surveyPrompt(cc.Stderr)})
	if err != nil {
		return err
	}
	defer eng.Close()

	n, err := eng.orch.CancelPending(ctx, args)
	if n > 0 {
		cc.Statusf("Cancelled %d upload session(s).\n", n)
	}

	if err != nil {
		return err
	}

	if n == 0 {
		if len(args) > 0 {
			return errNoSessions
		}

		cc.Statusf("No open upload sessions.\n")
	}

	return nil
}

// errNoSessions is reported when resume or cancel names paths that have no
// open session.
var errNoSessions = errors.New("no open upload session for the given paths")
