// Package loaders provides query.Loader implementations backed by common data
// sources: Redis, Firestore, Cloud Storage and BigQuery. Each source loads a
// value by key and can hand out a Loader bound to one key for use with query.Fetch.
package loaders

import (
	"context"
	"errors"
	"io"

	"github.com/illmade-knight/go-querycache/pkg/query"
)

// ErrNotFound is returned, wrapped, when a source has no value for a key.
var ErrNotFound = errors.New("loaders: not found")

// Source is a keyed source of truth for values of type V.
type Source[V any] interface {
	Load(ctx context.Context, key string) (V, error)
	io.Closer
}

// For binds key to src, producing a Loader that can be passed to query.Fetch.
func For[V any](src Source[V], key string) query.Loader[V] {
	return func(ctx context.Context) (V, error) {
		return src.Load(ctx, key)
	}
}

// Erase adapts a typed Loader to the untyped form accepted by (*query.Cache).Fetch.
func Erase[V any](l query.Loader[V]) query.Loader[any] {
	return func(ctx context.Context) (any, error) {
		return l(ctx)
	}
}
