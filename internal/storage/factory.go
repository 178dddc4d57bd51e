package storage

import (
	"fmt"

	"github.com/lgulliver/stowaway/pkg/config"
)

// StorageFactory creates storage instances based on configuration
type StorageFactory struct {
	config *config.StorageConfig
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(config *config.StorageConfig) *StorageFactory {
	return &StorageFactory{config: config}
}

// CreateStorage creates a storage instance based on the configured type.
// Staging files need positional writes, so only local disks qualify.
func (sf *StorageFactory) CreateStorage() (BlobStorage, error) {
	switch sf.config.Type {
	case "local", "":
		return NewLocalStorage(sf.config.LocalPath)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", sf.config.Type)
	}
}
