package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKeySuggestion(t *testing.T) {
	path := writeTestConfig(t, `quiet_perod = "5s"`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "quiet_perod"`)
	assert.Contains(t, err.Error(), `did you mean "quiet_period"`)
}

func TestLoad_UnknownKeyNoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `completely_unrelated = true`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "completely_unrelated"`)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_KnownKeyInsideTable(t *testing.T) {
	path := writeTestConfig(t, `
[watch]
quiet_period = "5s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"quiet_period" must be at the top level, not inside [watch]`)
}

func TestLoad_MultipleUnknownKeys(t *testing.T) {
	path := writeTestConfig(t, `
remote_nmae = "b2"
log_levl = "debug"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"remote_name"`)
	assert.Contains(t, err.Error(), `"log_level"`)
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "log_file", closestMatch("log_fle", knownKeysList))
	assert.Equal(t, "", closestMatch("zzzzzzzzzz", knownKeysList))
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"remote_name", "remote_name", 0},
		{"flaw", "lawn", 2},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestKnownKeysList_Sorted(t *testing.T) {
	assert.IsIncreasing(t, knownKeysList)
	assert.Len(t, knownKeysList, len(knownKeys))
}
