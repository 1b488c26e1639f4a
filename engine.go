package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/onedrive-uploader/internal/batch"
	"github.com/tonimelisma/onedrive-uploader/internal/config"
	"github.com/tonimelisma/onedrive-uploader/internal/driveops"
	"github.com/tonimelisma/onedrive-uploader/internal/graph"
	"github.com/tonimelisma/onedrive-uploader/internal/ledger"
)

// idleConnTimeout bounds how long a pooled connection may sit unused.
const idleConnTimeout = 90 * time.Second

// newHTTPClient applies network.connect_timeout to dialing and the TLS
// handshake, and network.data_timeout to waiting for response headers.
// There is no overall request timeout: a 60 MiB chunk on a slow link may
// legitimately take longer than any fixed bound. Chunk bodies are bounded
// by the uploader's stall timeout instead (see newUploader).
func newHTTPClient(cfg *config.Config) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout()}

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib invariant
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout()
	transport.ResponseHeaderTimeout = cfg.DataTimeout()
	transport.IdleConnTimeout = idleConnTimeout

	return &http.Client{Transport: transport}
}

// newTokenHTTPClient is newHTTPClient with an overall deadline. Token
// requests are small, so connect plus data timeout bounds them.
func newTokenHTTPClient(cfg *config.Config) *http.Client {
	hc := newHTTPClient(cfg)
	hc.Timeout = cfg.ConnectTimeout() + cfg.DataTimeout()

	return hc
}

// newTokenCache builds the token cache. With prompt nil the cache can only
// serve a still-valid cached token.
func newTokenCache(cfg *config.Config, prompt graph.CodePrompt, logger *slog.Logger) *driveops.TokenCache {
	var provider driveops.TokenProvider

	if prompt != nil {
		provider = newAuthProvider(cfg, prompt, logger)
	}

	return driveops.NewTokenCache(cfg.TokenCachePath(), provider, logger)
}

func newAuthProvider(cfg *config.Config, prompt graph.CodePrompt, logger *slog.Logger) *graph.AuthCodeProvider {
	return graph.NewAuthCodeProvider(graph.AuthConfig{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Tenant:       cfg.Auth.Tenant,
		RedirectURL:  cfg.Auth.RedirectURL,
		Scopes:       cfg.Auth.Scopes,
		HTTPClient:   newTokenHTTPClient(cfg),
	}, prompt, logger)
}

func newGraphClient(cfg *config.Config, tokens graph.TokenSource, logger *slog.Logger) *graph.Client {
	return graph.NewClient(cfg.Graph.APIRoot, newHTTPClient(cfg), tokens, logger, cfg.Network.UserAgent)
}

// newUploader builds the chunked uploader. network.data_timeout doubles as
// the stall timeout: a chunk whose body the server stops reading fails as a
// rejected chunk instead of blocking forever.
func newUploader(
	cfg *config.Config, api driveops.SessionAPI, progress *driveops.ProgressDispatcher, logger *slog.Logger,
) (*driveops.ChunkedUploader, error) {
	return driveops.NewChunkedUploader(api, driveops.UploaderConfig{
		ChunkSize:      cfg.ChunkBytes(),
		ChunkRetries:   cfg.Upload.ChunkRetries,
		StallTimeout:   cfg.DataTimeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
		VerifyContent:  cfg.Upload.VerifyContent,
		Limiter:        driveops.NewBandwidthLimiter(cfg.BandwidthBytesPerSec(), logger),
		Progress:       progress,
	}, logger)
}

// engine is the assembled upload stack for one command invocation.
type engine struct {
	orch     *batch.Orchestrator
	ledger   *ledger.Ledger
	progress *driveops.ProgressDispatcher
}

// engineOptions are the per-command knobs of newEngine.
type engineOptions struct {
	Prompt     graph.CodePrompt
	Observer   driveops.ProgressObserver // nil disables progress reporting
	OnFileDone func(batch.FileOutcome)
}

// newEngine wires config into the token cache, Graph client, folder
// manager, chunked uploader, ledger, and orchestrator. Callers must Close it.
func newEngine(ctx context.Context, cc *CLIContext, opts engineOptions) (*engine, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	client := newGraphClient(cfg, newTokenCache(cfg, opts.Prompt, logger), logger)

	var progress *driveops.ProgressDispatcher
	if opts.Observer != nil {
		progress = driveops.NewProgressDispatcher(opts.Observer, 0)
	}

	uploader, err := newUploader(cfg, client, progress, logger)
	if err != nil {
		progress.Close()

		return nil, err
	}

	led, err := ledger.Open(ctx, cfg.LedgerPath(), logger)
	if err != nil {
		progress.Close()

		return nil, fmt.Errorf("opening upload ledger: %w", err)
	}

	orch := batch.NewOrchestrator(batch.Config{
		Folders:    driveops.NewFolderManager(client, logger),
		Uploader:   uploader,
		Ledger:     led,
		Workers:    cfg.Upload.ParallelUploads,
		OnFileDone: opts.OnFileDone,
		Logger:     logger,
	})

	return &engine{orch: orch, ledger: led, progress: progress}, nil
}

// Close flushes progress delivery and closes the ledger.
func (e *engine) Close() error {
	e.progress.Close()

	return e.ledger.Close()
}
