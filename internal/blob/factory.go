package blob

import (
	"context"
	"fmt"
)

type Config struct {
	Backend string
	Dir     string
	Minio   MinioConfig
}

// NewFromConfig builds the backend named by cfg.Backend.
func NewFromConfig(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "fs", "filesystem":
		return NewFileSystemStore(cfg.Dir)
	case "minio", "s3":
		return NewMinioStore(ctx, cfg.Minio)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", cfg.Backend)
	}
}
