package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultDirs_ContainAppName(t *testing.T) {
	assert.Contains(t, DefaultConfigDir(), appName)
	assert.Contains(t, DefaultDataDir(), appName)
	assert.True(t, strings.HasSuffix(DefaultConfigPath(), "config.toml"))
}

func TestDefaultConfigDir_MacOS(t *testing.T) {
	if runtime.GOOS != platformDarwin {
		t.Skip("macOS-only test")
	}

	assert.Contains(t, DefaultConfigDir(), "Library/Application Support")
}

func TestXDGDir_Override(t *testing.T) {
	t.Setenv("XDG_TEST_HOME", "/custom/data")
	assert.Equal(t, filepath.Join("/custom/data", appName), xdgDir("XDG_TEST_HOME", "/home/u/.local/share"))
}

func TestXDGDir_Fallback(t *testing.T) {
	t.Setenv("XDG_TEST_HOME", "")
	assert.Equal(t, filepath.Join("/home/u/.local/share", appName), xdgDir("XDG_TEST_HOME", "/home/u/.local/share"))
}

func TestLinuxDataDir_XDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("linux-only test")
	}

	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	assert.Equal(t, filepath.Join("/xdg/data", appName), DefaultDataDir())
}

func TestDataPath(t *testing.T) {
	assert.Equal(t, "/abs/tokens.json", dataPath("/abs/tokens.json"))
	assert.Equal(t, filepath.Join(DefaultDataDir(), "cache", "tokenCache.json"), dataPath("cache/tokenCache.json"))

	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, "uploads.db"), dataPath("~/uploads.db"))
}
