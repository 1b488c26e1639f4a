package config

import "time"

// The accessors below assume a Config that passed Validate; parse failures
// fall back to zero values.

// TokenCachePath returns the absolute token cache file path.
func (c *Config) TokenCachePath() string {
	return dataPath(c.Auth.TokenCache)
}

// LedgerPath returns the absolute upload ledger database path.
func (c *Config) LedgerPath() string {
	return dataPath(c.Upload.Ledger)
}

// ChunkBytes returns upload.chunk_size in bytes.
func (c *Config) ChunkBytes() int64 {
	n, _ := ParseSize(c.Upload.ChunkSize)

	return n
}

// BandwidthBytesPerSec returns upload.bandwidth_limit in bytes per second.
// Zero means unlimited.
func (c *Config) BandwidthBytesPerSec() int64 {
	n, _ := ParseRate(c.Upload.BandwidthLimit)

	return n
}

// ConnectTimeout returns network.connect_timeout.
func (c *Config) ConnectTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Network.ConnectTimeout)

	return d
}

// DataTimeout returns network.data_timeout.
func (c *Config) DataTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Network.DataTimeout)

	return d
}
