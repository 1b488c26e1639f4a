package config

import "github.com/tonimelisma/onedrive-uploader/internal/graph"

// Default values: layer 0 of the override chain.
const (
	defaultAPIRoot         = graph.DefaultBaseURL
	defaultTokenCache      = "cache/tokenCache.json"
	defaultLedger          = "uploads.db"
	defaultMoviePath       = "Movies"
	defaultTVPath          = "TV Shows"
	defaultChunkSize       = "3200KiB"
	defaultParallelUploads = 1
	defaultBandwidthLimit  = "0"
	defaultChunkRetries    = 0
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultConnectTimeout  = "10s"
	defaultDataTimeout     = "60s"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			Tenant:      graph.DefaultTenant,
			RedirectURL: graph.DefaultRedirectURL,
			Scopes:      append([]string(nil), graph.DefaultScopes...),
			TokenCache:  defaultTokenCache,
		},
		Graph: GraphConfig{APIRoot: defaultAPIRoot},
		Upload: UploadConfig{
			MoviePath:       defaultMoviePath,
			TVPath:          defaultTVPath,
			ChunkSize:       defaultChunkSize,
			ParallelUploads: defaultParallelUploads,
			BandwidthLimit:  defaultBandwidthLimit,
			ChunkRetries:    defaultChunkRetries,
			VerifyContent:   true,
			Ledger:          defaultLedger,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}
