// Package storage is the boundary to the object store that holds session
// video recordings. The service only keeps the returned URL and storage key;
// binary content never touches the database.
package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("stored object not found")

// Object identifies an uploaded binary.
type Object struct {
	URL string
	Key string
}

type ObjectStorage interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (Object, error)
	Delete(ctx context.Context, key string) error
}
