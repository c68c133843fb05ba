package blobstore

import (
	"context"
	"fmt"

	"github.com/whrgg/cloud-drive-project/internal/config"
	"github.com/whrgg/cloud-drive-project/internal/drive"
)

// NewBlobStoreFromConfig creates a BlobStore implementation based on the config type.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.BlobStoreConfig) (drive.BlobStore, error) {
	var signer *URLSigner
	if cfg.SigningKey != "" {
		s, err := NewURLSigner(cfg.BaseURL, []byte(cfg.SigningKey))
		if err != nil {
			return nil, err
		}
		signer = s
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryStore(signer), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem blob store requires root to be set")
		}
		return NewFileSystemStore(cfg.Root, signer)
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
