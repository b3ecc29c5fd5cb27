package storage

import (
	"context"
	"fmt"
	"log/slog"

	"slidecast/internal/config"
)

// StorageType represents the type of storage backend
type StorageType string

const (
	StorageTypeLocal       StorageType = "local"
	StorageTypeS3          StorageType = "s3"
	StorageTypeR2          StorageType = "r2"
	StorageTypeGoogleDrive StorageType = "gdrive"
)

// NewStorage creates the storage backend selected by STORAGE_PROVIDER
func NewStorage(ctx context.Context, cfg *config.Config) (Storage, error) {
	storageType, err := GetStorageTypeFromString(cfg.StorageProvider)
	if err != nil {
		return nil, err
	}

	if err := ValidateStorageConfig(storageType, cfg); err != nil {
		return nil, fmt.Errorf("storage configuration validation failed: %w", err)
	}

	slog.Info("Creating storage backend", "type", storageType)

	switch storageType {
	case StorageTypeLocal:
		return NewLocalStorage(cfg.LocalStorageDir, cfg.PublicBaseURL)
	case StorageTypeS3, StorageTypeR2:
		return createS3Storage(ctx, cfg)
	case StorageTypeGoogleDrive:
		return NewServiceWithToken(ctx, cfg.GoogleAccessToken, cfg.GDriveFolderID)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", storageType)
	}
}

func createS3Storage(ctx context.Context, cfg *config.Config) (*S3Storage, error) {
	s3cfg := S3Config{
		Region:      cfg.S3Region,
		Bucket:      cfg.S3Bucket,
		AccessKey:   cfg.S3AccessKey,
		SecretKey:   cfg.S3SecretKey,
		EndpointURL: cfg.S3EndpointURL,
		BaseURL:     cfg.S3BaseURL,
		PublicRead:  cfg.S3PublicRead,
	}

	storage, err := NewS3Storage(ctx, s3cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 storage: %w", err)
	}

	slog.Info("S3/R2 storage created successfully",
		"bucket", s3cfg.Bucket,
		"endpoint", s3cfg.EndpointURL,
		"public_read", s3cfg.PublicRead)

	return storage, nil
}

// ValidateStorageConfig validates the storage configuration for a given type
func ValidateStorageConfig(storageType StorageType, cfg *config.Config) error {
	switch storageType {
	case StorageTypeLocal:
		if cfg.LocalStorageDir == "" {
			return fmt.Errorf("LOCAL_STORAGE_DIR is required for local storage")
		}
		return nil
	case StorageTypeS3, StorageTypeR2:
		if cfg.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for %s storage", storageType)
		}
		if cfg.S3AccessKey == "" {
			return fmt.Errorf("AWS_ACCESS_KEY_ID is required for %s storage", storageType)
		}
		if cfg.S3SecretKey == "" {
			return fmt.Errorf("AWS_SECRET_ACCESS_KEY is required for %s storage", storageType)
		}
		return nil
	case StorageTypeGoogleDrive:
		if cfg.GoogleAccessToken == "" {
			return fmt.Errorf("GOOGLE_OAUTH_ACCESS_TOKEN is required for gdrive storage")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage type: %s", storageType)
	}
}

// GetAvailableStorageTypes returns a list of all supported storage types
func GetAvailableStorageTypes() []StorageType {
	return []StorageType{
		StorageTypeLocal,
		StorageTypeS3,
		StorageTypeR2,
		StorageTypeGoogleDrive,
	}
}

// IsValidStorageType checks if a storage type is supported
func IsValidStorageType(storageType string) bool {
	switch StorageType(storageType) {
	case StorageTypeLocal, StorageTypeS3, StorageTypeR2, StorageTypeGoogleDrive:
		return true
	default:
		return false
	}
}

// GetStorageTypeFromString converts a string to StorageType with validation
func GetStorageTypeFromString(s string) (StorageType, error) {
	storageType := StorageType(s)
	if !IsValidStorageType(s) {
		return "", fmt.Errorf("invalid storage type: %s. Valid types: %v", s, GetAvailableStorageTypes())
	}
	return storageType, nil
}
