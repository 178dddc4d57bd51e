package storage

import (
	"context"
	"testing"

	"github.com/lgulliver/stowaway/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageFactory_CreateLocalStorage(t *testing.T) {
	tempDir := t.TempDir()

	storageConfig := &config.StorageConfig{
		Type:      "local",
		LocalPath: tempDir,
	}

	factory := NewStorageFactory(storageConfig)
	storage, err := factory.CreateStorage()

	require.NoError(t, err)
	require.NotNil(t, storage)

	// Test that we can perform basic operations
	ctx := context.Background()
	created, err := storage.Allocate(ctx, "factory_test", 8)
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, storage.WriteAt(ctx, "factory_test", 4, []byte("tail")))

	size, err := storage.GetSize(ctx, "factory_test")
	assert.NoError(t, err)
	assert.Equal(t, int64(8), size)
}

func TestStorageFactory_UnsupportedType(t *testing.T) {
	for _, storageType := range []string{"s3", "gcs", "azure", "unsupported"} {
		t.Run(storageType, func(t *testing.T) {
			factory := NewStorageFactory(&config.StorageConfig{Type: storageType})
			storage, err := factory.CreateStorage()

			assert.Error(t, err)
			assert.Nil(t, storage)
			assert.Contains(t, err.Error(), "unsupported storage type")
		})
	}
}
