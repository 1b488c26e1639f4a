package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated TOML-like
// summary to w. The client secret is masked.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[auth]\n")
	ew.printf("  client_id     = %q\n", cfg.Auth.ClientID)
	ew.printf("  client_secret = %q\n", maskSecret(cfg.Auth.ClientSecret))
	ew.printf("  tenant        = %q\n", cfg.Auth.Tenant)
	ew.printf("  redirect_url  = %q\n", cfg.Auth.RedirectURL)
	ew.printf("  scopes        = [%s]\n", joinQuoted(cfg.Auth.Scopes))
	ew.printf("  token_cache   = %q\n\n", cfg.TokenCachePath())

	ew.printf("[graph]\n")
	ew.printf("  api_root = %q\n\n", cfg.Graph.APIRoot)

	ew.printf("[upload]\n")
	ew.printf("  movie_path       = %q\n", cfg.Upload.MoviePath)
	ew.printf("  tv_path          = %q\n", cfg.Upload.TVPath)
	ew.printf("  chunk_size       = %q\n", cfg.Upload.ChunkSize)
	ew.printf("  parallel_uploads = %d\n", cfg.Upload.ParallelUploads)
	ew.printf("  bandwidth_limit  = %q\n", cfg.Upload.BandwidthLimit)
	ew.printf("  chunk_retries    = %d\n", cfg.Upload.ChunkRetries)
	ew.printf("  verify_content   = %t\n", cfg.Upload.VerifyContent)
	ew.printf("  ledger           = %q\n\n", cfg.LedgerPath())

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", cfg.Logging.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", cfg.Network.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", cfg.Network.DataTimeout)

	if cfg.Network.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", cfg.Network.UserAgent)
	}

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}

	return "********"
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
