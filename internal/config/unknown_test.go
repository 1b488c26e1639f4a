package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_Suggestion(t *testing.T) {
	path := writeTestConfig(t, "[auth]\nclient_id = \"x\"\n\n[upload]\nparallel_upload = 2\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "upload.parallel_upload"`)
	assert.Contains(t, err.Error(), `did you mean "upload.parallel_uploads"`)
}

func TestLoad_UnknownKey_WrongSection(t *testing.T) {
	path := writeTestConfig(t, "[auth]\nclient_id = \"x\"\nchunk_size = \"640KiB\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.chunk_size")
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, "[auth]\nclient_id = \"x\"\ncompletely_unrelated_key = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"tv_paths", "tv_path", 1},
		{"kitten", "sitting", 3},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "logging.log_level", closestMatch("logging.loglevel", knownKeysList))
	assert.Empty(t, closestMatch("zzzzzzzzzz", knownKeysList))
}
