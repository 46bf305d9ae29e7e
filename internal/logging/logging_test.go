package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithDefaults(t *testing.T) {
	logger, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewJSONFormat(t *testing.T) {
	logger, err := New(Config{Level: LevelDebug, Format: FormatJSON, Output: "stderr"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewFileOutput(t *testing.T) {
	path := t.TempDir() + "/sub/lanscout.log"
	logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: path})
	require.NoError(t, err)

	logger.Info("test entry")
	assert.FileExists(t, path)
}

func TestWithComponent(t *testing.T) {
	logger := NewDefault().WithComponent("discovery")
	require.NotNil(t, logger)
	// Derived loggers keep the wrapper helpers usable.
	logger.InfoDiscovery("sweep done", "192.168.1.0/24", "hosts", 3)
}

func TestSetDefault(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	custom := NewDefault()
	SetDefault(custom)
	assert.Same(t, custom, Default())
}
