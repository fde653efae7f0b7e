// Package blob abstracts the opaque blob store holding encrypted file
// content. The core never interprets locators; it only puts and gets bytes.
package blob

import (
	"context"
	"io"
)

// Store is the external storage collaborator. Implementations must return
// shared.ErrNotFound for unknown locators.
type Store interface {
	// Put streams the blob under the given locator, replacing any
	// previous content.
	Put(ctx context.Context, locator string, r io.Reader) error

	// Get opens the blob for reading. The caller owns the returned reader.
	Get(ctx context.Context, locator string) (io.ReadCloser, error)

	// Delete removes the blob. Used only to roll back an upload whose
	// metadata commit failed; committed versions are never deleted.
	Delete(ctx context.Context, locator string) error
}
