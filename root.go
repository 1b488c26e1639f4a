package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-uploader/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that must run without a valid
// configuration (config init writes the first one).
const skipConfigAnnotation = "skipConfig"

// CLIFlags are the parsed persistent flags.
type CLIFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

// CLIContext carries everything a subcommand needs. It is built once in
// PersistentPreRunE and stored in the command's context.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config // nil for skipConfig commands
	CfgPath string
	Logger  *slog.Logger
	Stdout  io.Writer
	Stderr  io.Writer
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext installed by the root pre-run. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "onedrive-uploader",
		Short:         "Resumable OneDrive media uploader",
		Long:          "Uploads movies and TV seasons to OneDrive over resumable chunked upload sessions.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := buildCLIContext(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cmd.SetContext(withCLIContext(ctx, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func buildCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cc := &CLIContext{
		Flags: CLIFlags{
			ConfigPath: flagConfigPath,
			Verbose:    flagVerbose,
			Quiet:      flagQuiet,
		},
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	}

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		cc.Logger = buildLogger(nil, cc.Flags, cc.Stderr)

		return cc, nil
	}

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cliOverrides(cmd))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = cfg
	cc.CfgPath = path
	cc.Logger = buildLogger(cfg, cc.Flags, cc.Stderr)

	return cc, nil
}

// cliOverrides collects the upload flags the user explicitly set. Commands
// that do not define them simply contribute nothing.
func cliOverrides(cmd *cobra.Command) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	flags := cmd.Flags()

	if flags.Changed("chunk-size") {
		v, _ := flags.GetString("chunk-size")
		cli.ChunkSize = &v
	}

	if flags.Changed("parallel") {
		v, _ := flags.GetInt("parallel")
		cli.ParallelUploads = &v
	}

	if flags.Changed("bandwidth") {
		v, _ := flags.GetString("bandwidth")
		cli.BandwidthLimit = &v
	}

	if flags.Changed("retries") {
		v, _ := flags.GetInt("retries")
		cli.ChunkRetries = &v
	}

	return cli
}

// buildLogger creates the process logger. The config level is the
// baseline; --verbose and --quiet override it. Format "auto" picks text on
// a terminal and JSON otherwise.
func buildLogger(cfg *config.Config, flags CLIFlags, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = cfg.Logging.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	fd := f.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// errIncomplete marks a command that ran to the end but left work undone.
// main prints it like any other error.
var errIncomplete = errors.New("some files did not upload")

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
