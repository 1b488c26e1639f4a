package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-uploader/internal/batch"
)

// upload flags
var (
	flagManifest   string
	flagNoProgress bool
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload [paths...]",
		Short: "Upload movies and TV seasons",
		Long: `Uploads each path as one remote folder. A file becomes a movie folder named
after the file under upload.movie_path; a directory becomes a series folder
named after the directory under upload.tv_path, holding the directory's
files. Existing remote folders are never reused: a clash gets a renamed
folder.

Examples:
  onedrive-uploader upload "Heat (1995).mkv"
  onedrive-uploader upload ~/rips/Severance-S01 --parallel 3
  onedrive-uploader upload --manifest batch.yaml`,
		RunE: runUpload,
	}

	addTransferFlags(cmd)
	cmd.Flags().StringVar(&flagManifest, "manifest", "", "YAML manifest listing units to upload")
	cmd.Flags().BoolVar(&flagNoProgress, "no-progress", false, "disable progress bars")

	return cmd
}

// addTransferFlags registers the flags that override [upload] settings.
// They are read by cliOverrides in the root pre-run.
func addTransferFlags(cmd *cobra.Command) {
	cmd.Flags().String("chunk-size", "", "chunk size, a multiple of 320KiB (e.g. 10MiB)")
	cmd.Flags().Int("parallel", 0, "number of files uploaded concurrently")
	cmd.Flags().String("bandwidth", "", "aggregate bandwidth limit (e.g. 5MB/s, 0 = unlimited)")
	cmd.Flags().Int("retries", 0, "automatic resumes per file after a failed chunk")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	units, err := collectUnits(cc, args)
	if err != nil {
		return err
	}

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

	report, runErr := eng.orch.Run(ctx, units)

	return finishRun(cc, report, runErr)
}

// collectUnits turns arguments or a manifest into upload units. Mixing the
// two is rejected.
func collectUnits(cc *CLIContext, args []string) ([]batch.UploadUnit, error) {
	switch {
	case flagManifest != "" && len(args) > 0:
		return nil, errors.New("pass either paths or --manifest, not both")
	case flagManifest != "":
		return batch.LoadManifest(flagManifest, cc.Cfg.Upload.MoviePath)
	case len(args) == 0:
		return nil, errors.New("nothing to upload: pass one or more paths or --manifest")
	}

	return batch.Classify(args, cc.Cfg.Upload.MoviePath, cc.Cfg.Upload.TVPath)
}

// showBars enables progress bars only for sequential uploads on a terminal.
func showBars(cc *CLIContext) bool {
	return !flagNoProgress && !cc.Flags.Quiet &&
		cc.Cfg.Upload.ParallelUploads <= 1 && isTerminal(cc.Stderr)
}

// finishRun prints the summary of a run and maps it to the command's error.
func finishRun(cc *CLIContext, report *batch.Report, runErr error) error {
	if report != nil && report.Files() > 0 {
		statusf(cc.Stdout, cc.Flags.Quiet, "%s\n", renderSummary(report))
	}

	if runErr != nil {
		return runErr
	}

	if report != nil && report.HasFailures() {
		hint := ""
		if report.Failed > 0 {
			hint = "; run 'onedrive-uploader sessions' to see resumable uploads"
		}

		return fmt.Errorf("%w: %d of %d%s", errIncomplete, report.Failed+report.Skipped, report.Files(), hint)
	}

	return nil
}
