package storage

import (
	"context"

	"golang.org/x/xerrors"
)

type Storage interface {
	// Put stores data with the given key and returns the storage URL
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get retrieves data from the given storage URL
	Get(ctx context.Context, url string) ([]byte, error)
}

type Backend string

const (
	File Backend = "file"
	S3   Backend = "s3"
)

type Config struct {
	Backend Backend
	File    FileConfig
	S3      S3Config
}

// Open creates the storage backend named by c.Backend.
func Open(ctx context.Context, c Config) (Storage, error) {
	switch c.Backend {
	case File, "":
		return NewFileStorage(ctx, c.File)
	case S3:
		return NewS3Storage(ctx, c.S3)
	default:
		return nil, xerrors.Errorf("unknown storage backend: %s", c.Backend)
	}
}
