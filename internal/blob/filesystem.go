package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FilesystemStore persists blobs on disk, one directory per container.
type FilesystemStore struct {
	baseDir string
}

// NewFilesystemStore ensures the base directory exists and returns a handle.
func NewFilesystemStore(baseDir string) (*FilesystemStore, error) {
	if baseDir == "" {
		baseDir = "./blobs"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &FilesystemStore{baseDir: baseDir}, nil
}

// ListContainers returns the container names sorted alphabetically.
func (s *FilesystemStore) ListContainers(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	containers := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			containers = append(containers, entry.Name())
		}
	}
	sort.Strings(containers)
	return containers, nil
}

// ListBlobs returns the blob names in one container sorted alphabetically.
// A missing container yields an empty list, not an error.
func (s *FilesystemStore) ListBlobs(ctx context.Context, container string) ([]string, error) {
	dir, err := s.containerDir(container)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list blobs in %s: %w", container, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read returns the full blob content.
func (s *FilesystemStore) Read(ctx context.Context, container, name string) ([]byte, error) {
	path, err := s.resolve(container, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob %s/%s: %w", container, name, err)
	}
	return data, nil
}

// Exists reports whether the blob is present.
func (s *FilesystemStore) Exists(ctx context.Context, container, name string) (bool, error) {
	path, err := s.resolve(container, name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s/%s: %w", container, name, err)
	}
	return true, nil
}

// Delete removes the blob. Deleting an absent blob is not an error.
func (s *FilesystemStore) Delete(ctx context.Context, container, name string) error {
	path, err := s.resolve(container, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s/%s: %w", container, name, err)
	}
	return nil
}

// Move relocates the blob into dstContainer preserving its name.
func (s *FilesystemStore) Move(ctx context.Context, srcContainer, name, dstContainer string) error {
	src, err := s.resolve(srcContainer, name)
	if err != nil {
		return err
	}
	dst, err := s.resolve(dstContainer, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("prepare container %s: %w", dstContainer, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move blob %s/%s to %s: %w", srcContainer, name, dstContainer, err)
	}
	return nil
}

func (s *FilesystemStore) containerDir(container string) (string, error) {
	if container == "" || strings.ContainsAny(container, `/\`) {
		return "", fmt.Errorf("invalid container name %q", container)
	}
	return filepath.Join(s.baseDir, container), nil
}

func (s *FilesystemStore) resolve(container, name string) (string, error) {
	dir, err := s.containerDir(container)
	if err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(dir, name), nil
}
