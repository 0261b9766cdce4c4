// Package blob abstracts the shared store that scanning vendors deliver zip
// files into. Blobs are addressed by (container, name); the filesystem
// implementation maps containers onto directories under a base path.
package blob

import "context"

// Store is the blob store collaborator contract. Every mutating operation on
// a blob must run under a lease held through the lease coordinator.
type Store interface {
	ListContainers(ctx context.Context) ([]string, error)
	ListBlobs(ctx context.Context, container string) ([]string, error)
	Read(ctx context.Context, container, name string) ([]byte, error)
	Exists(ctx context.Context, container, name string) (bool, error)
	Delete(ctx context.Context, container, name string) error
	// Move copies the blob into dstContainer under the same name and removes
	// the source.
	Move(ctx context.Context, srcContainer, name, dstContainer string) error
}
