package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, BuildTime, info.BuildTime)
	assert.NotEmpty(t, info.GitCommit)
	assert.Contains(t, info.GoVersion, "go")
}

func TestGetKeepsStampedCommit(t *testing.T) {
	original := GitCommit
	t.Cleanup(func() { GitCommit = original })

	GitCommit = "abc123"
	assert.Equal(t, "abc123", Get().GitCommit)
}

func TestInfoString(t *testing.T) {
	info := Info{Version: "0.3.0", GitCommit: "abc123", BuildTime: "2025-09-01T10:00:00Z", GoVersion: "go1.25.1"}
	assert.Equal(t, "Version: 0.3.0, GitCommit: abc123, BuildTime: 2025-09-01T10:00:00Z, GoVersion: go1.25.1", info.String())
}

func TestInfoJSON(t *testing.T) {
	info := Info{Version: "0.3.0", GitCommit: "abc123", BuildTime: "2025-09-01T10:00:00Z", GoVersion: "go1.25.1"}

	out, err := info.JSON()
	require.NoError(t, err)
	assert.Equal(t, `{
  "version": "0.3.0",
  "gitCommit": "abc123",
  "buildTime": "2025-09-01T10:00:00Z",
  "goVersion": "go1.25.1"
}`, out)

	var parsed Info
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, info, parsed)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "saipling/"+Version, UserAgent())
}
