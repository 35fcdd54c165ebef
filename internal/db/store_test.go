package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpen_ValidationErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		dbPath      string
		expectedErr string
	}{
		{"empty_path", "", "empty database path"},
		{"whitespace_path", "   ", "empty database path"},
		{"tabs_path", "\t\t", "empty database path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(ctx, tt.dbPath)
			assert.Nil(t, store)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestOpen_Success(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := Open(ctx, dbPath)
	assert.NoError(t, err)
	assert.NotNil(t, store)
	assert.NotNil(t, store.db)

	// Cleanup
	assert.NoError(t, store.Close())
}

func TestOpen_DirectoryCreation(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "deep", "test.db")

	store, err := Open(ctx, dbPath)
	assert.NoError(t, err)
	assert.NotNil(t, store)

	// Verify nested directories were created
	assert.DirExists(t, filepath.Dir(dbPath))

	// Cleanup
	assert.NoError(t, store.Close())
}

func TestOpen_FilePermissions(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := Open(ctx, dbPath)
	assert.NoError(t, err)
	assert.NotNil(t, store)

	// Check file permissions (should be 0600)
	info, err := os.Stat(dbPath)
	assert.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Cleanup
	assert.NoError(t, store.Close())
}

func TestOpen_MigrationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := Open(ctx, dbPath)
	assert.NoError(t, err)
	assert.NoError(t, store.Close())

	// Re-opening an already-migrated database must succeed
	store, err = Open(ctx, dbPath)
	assert.NoError(t, err)
	assert.NotNil(t, store)

	var ver int
	assert.NoError(t, store.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&ver))
	assert.Equal(t, 1, ver)

	assert.NoError(t, store.Close())
}

func TestStore_CloseNil(t *testing.T) {
	var store *Store
	assert.NoError(t, store.Close())
}
