// Package config decodes named storage connection settings.
package config

import (
	"fmt"

	coreConfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // Type of storage ("local" or "gcs").
	BucketName      string `yaml:"bucket_name"`      // Default bucket name for operations.
	CredentialsFile string `yaml:"credentials_file"` // Service account key for GCS. Empty uses application default credentials.
	BaseDir         string `yaml:"base_dir"`         // Base directory for local file system operations.
	Endpoint        string `yaml:"endpoint"`         // Alternative API endpoint, e.g. a GCS emulator.
}

// Lookup decodes the storage connection configured under name.
func Lookup(cfg *coreConfig.Config, name string) (StorageConfig, error) {
	var sc StorageConfig
	raw, ok := cfg.Chunkflow.Storage[name]
	if !ok {
		return sc, exception.NewNotFoundError("storage", fmt.Sprintf("storage connection '%s' not found in configuration", name), nil)
	}
	props, ok := raw.(map[string]interface{})
	if !ok {
		return sc, exception.NewInvalidArgumentError("storage", fmt.Sprintf("storage connection '%s': expected a mapping, got %T", name, raw))
	}
	if err := configbinder.BindProperties(props, &sc); err != nil {
		return sc, exception.NewBatchError("storage", fmt.Sprintf("failed to decode storage config for '%s'", name), err, false, false)
	}
	return sc, nil
}
