package ports

import (
	"context"
	"errors"
)

// ErrObjectExists is returned by CreateObject when the target key is
// already occupied. It is the signal the lease protocol is built on.
var ErrObjectExists = errors.New("object already exists")

// ErrObjectNotFound is returned by ReadObject for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore: implementaciones (localfs, gcs, memstore).
//
// CreateObject is the only mutual-exclusion primitive in the system: it
// must atomically fail with ErrObjectExists if any object is already
// stored at the key, regardless of writer. PutObject overwrites
// unconditionally. DeleteObject is idempotent; deleting a missing key
// is not an error.
type ObjectStore interface {
	Provider() string

	CreateObject(ctx context.Context, key string, data []byte) error
	PutObject(ctx context.Context, key string, data []byte) error
	ReadObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error

	// ListObjects returns the keys of all objects under prefix, in no
	// particular order.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsExists reports whether err means a create-if-absent lost the race.
func IsExists(err error) bool {
	return errors.Is(err, ErrObjectExists)
}
