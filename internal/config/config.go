// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for onedrive-uploader. Values are
// layered: defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Auth    AuthConfig    `toml:"auth"`
	Graph   GraphConfig   `toml:"graph"`
	Upload  UploadConfig  `toml:"upload"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// AuthConfig identifies the Azure AD application used for the
// authorization-code flow and where the access token is cached.
type AuthConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Tenant       string   `toml:"tenant"`
	RedirectURL  string   `toml:"redirect_url"`
	Scopes       []string `toml:"scopes"`
	// TokenCache is the token cache file. Relative paths resolve against
	// the data directory.
	TokenCache string `toml:"token_cache"`
}

// GraphConfig selects the Graph API endpoint.
type GraphConfig struct {
	APIRoot string `toml:"api_root"`
}

// UploadConfig controls where units land and how files are transferred.
// chunk_size must be a multiple of 320 KiB per the OneDrive upload API.
type UploadConfig struct {
	MoviePath       string `toml:"movie_path"`
	TVPath          string `toml:"tv_path"`
	ChunkSize       string `toml:"chunk_size"`
	ParallelUploads int    `toml:"parallel_uploads"`
	BandwidthLimit  string `toml:"bandwidth_limit"`
	ChunkRetries    int    `toml:"chunk_retries"`
	VerifyContent   bool   `toml:"verify_content"`
	Ledger          string `toml:"ledger"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from an explicit zero value.
type CLIOverrides struct {
	ConfigPath      string // --config (empty = default location)
	ChunkSize       *string
	ParallelUploads *int
	BandwidthLimit  *string
	ChunkRetries    *int
}
