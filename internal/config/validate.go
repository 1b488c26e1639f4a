package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	chunkAlignBytes    = 327680     // 320 KiB alignment for upload chunks
	minChunkBytes      = 327680     // 320 KiB
	maxChunkBytes      = 62_914_560 // 60 MiB
	minParallelUploads = 1
	maxParallelUploads = 16
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
)

// Validate checks all configuration values and returns all errors found,
// joined, so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateGraph(&cfg.Graph)...)
	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if a.ClientID == "" {
		errs = append(errs, fmt.Errorf("auth.client_id: must be set (or %s)", EnvClientID))
	}

	if a.Tenant == "" {
		errs = append(errs, errors.New("auth.tenant: must not be empty"))
	}

	if len(a.Scopes) == 0 {
		errs = append(errs, errors.New("auth.scopes: must list at least one scope"))
	}

	if a.TokenCache == "" {
		errs = append(errs, errors.New("auth.token_cache: must not be empty"))
	}

	if a.RedirectURL != "" {
		errs = append(errs, validateURL("auth.redirect_url", a.RedirectURL)...)
	}

	return errs
}

func validateGraph(g *GraphConfig) []error {
	return validateURL("graph.api_root", g.APIRoot)
}

func validateURL(field, raw string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, raw)}
	}

	return nil
}

func validateUpload(u *UploadConfig) []error {
	var errs []error

	if u.MoviePath == "" {
		errs = append(errs, errors.New("upload.movie_path: must not be empty"))
	}

	if u.TVPath == "" {
		errs = append(errs, errors.New("upload.tv_path: must not be empty"))
	}

	errs = append(errs, validateChunkSize(u.ChunkSize)...)

	if u.ParallelUploads < minParallelUploads || u.ParallelUploads > maxParallelUploads {
		errs = append(errs, fmt.Errorf("upload.parallel_uploads: must be between %d and %d, got %d",
			minParallelUploads, maxParallelUploads, u.ParallelUploads))
	}

	if _, err := ParseRate(u.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("upload.bandwidth_limit: %w", err))
	}

	if u.ChunkRetries < 0 {
		errs = append(errs, fmt.Errorf("upload.chunk_retries: must be >= 0, got %d", u.ChunkRetries))
	}

	if u.Ledger == "" {
		errs = append(errs, errors.New("upload.ledger: must not be empty"))
	}

	return errs
}

func validateChunkSize(s string) []error {
	bytes, err := ParseSize(s)
	if err != nil {
		return []error{fmt.Errorf("upload.chunk_size: %w", err)}
	}

	if bytes < minChunkBytes || bytes > maxChunkBytes {
		return []error{fmt.Errorf("upload.chunk_size: must be between 320KiB and 60MiB, got %s", s)}
	}

	if bytes%chunkAlignBytes != 0 {
		return []error{fmt.Errorf(
			"upload.chunk_size: must be a multiple of 320 KiB (%d bytes), got %s (%d bytes)",
			chunkAlignBytes, s, bytes)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
