package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"fieldsync/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, name := range entries {
		raw, err := fs.ReadFile(migrations.FS, name)
		require.NoError(t, err)
		body := string(raw)
		assert.True(t, strings.Contains(body, "-- +goose Up"), name)
		assert.True(t, strings.Contains(body, "-- +goose Down"), name)
	}
}
