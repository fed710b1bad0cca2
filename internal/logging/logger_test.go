package logging

import (
	"os"
	"path/filepath"
	"testing"

	"fieldsync/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{}, config.AppConfig{Name: "fieldsync"})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger, closer, err := New(config.LoggingConfig{Level: "debug", Output: "file", FilePath: path}, config.AppConfig{Name: "fieldsync"})
	require.NoError(t, err)
	require.NotNil(t, closer)

	Component(logger, "syncer").Debug().Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"syncer"`)
	assert.Contains(t, string(data), `"message":"hello"`)
}

func TestNewErrors(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Output: "file"}, config.AppConfig{})
	assert.Error(t, err)

	_, _, err = New(config.LoggingConfig{Level: "loud"}, config.AppConfig{})
	assert.Error(t, err)

	_, _, err = New(config.LoggingConfig{Output: "printer"}, config.AppConfig{})
	assert.Error(t, err)
}
