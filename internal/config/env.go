package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "ONEDRIVE_UPLOADER_CONFIG"
	EnvClientID     = "ONEDRIVE_UPLOADER_CLIENT_ID"
	EnvClientSecret = "ONEDRIVE_UPLOADER_CLIENT_SECRET"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // ONEDRIVE_UPLOADER_CONFIG: config file path
	ClientID     string // ONEDRIVE_UPLOADER_CLIENT_ID: replaces auth.client_id
	ClientSecret string // ONEDRIVE_UPLOADER_CLIENT_SECRET: replaces auth.client_secret
}

// ReadEnvOverrides reads the environment. It does not modify any Config.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
	}
}
