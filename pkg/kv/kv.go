// Package kv provides namespaced key-value persistence for client state.
package kv

import (
	"context"
	"encoding/json"
	goerrors "errors"

	"github.com/yanun0323/errors"
)

var (
	// ErrNotFound is returned when a key does not exist in the namespace.
	ErrNotFound = errors.New("kv: key not found")
	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("kv: store closed")
)

// Store is a namespaced key-value blob store.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Remove(ctx context.Context, namespace, key string) error
	Clear(ctx context.Context, namespace string) error
	Keys(ctx context.Context, namespace string) ([]string, error)
	Close() error
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return goerrors.Is(err, ErrNotFound)
}

// GetJSON reads a key and unmarshals its blob into v.
func GetJSON(ctx context.Context, store Store, namespace, key string, v any) error {
	blob, err := store.Get(ctx, namespace, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return errors.Wrapf(err, "decode %s/%s", namespace, key)
	}
	return nil
}

// SetJSON marshals v and writes it under the key.
func SetJSON(ctx context.Context, store Store, namespace, key string, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%s", namespace, key)
	}
	return store.Set(ctx, namespace, key, blob)
}
