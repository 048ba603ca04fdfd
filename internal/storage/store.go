package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// Store is a flat key-value store for JSON documents.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
