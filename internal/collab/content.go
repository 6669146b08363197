package collab

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore is a content-addressed blob store on the local filesystem. Blobs
// live under root sharded by the first two hex characters of their SHA-256
// hash, and writes go through a temp file plus rename so readers never see a
// partial blob.
type FileStore struct {
	root string
}

// NewFileStore creates the store root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("content store root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create content store root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Put stores a blob and returns its hex SHA-256 hash.
func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	path := s.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "blob-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return hash, nil
}

// Get loads a blob by hash and verifies the content still matches it.
func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(hash) != sha256.Size*2 {
		return nil, fmt.Errorf("invalid content hash %q", hash)
	}
	data, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", hash, err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, fmt.Errorf("blob %s failed integrity check", hash)
	}
	return data, nil
}

func (s *FileStore) blobPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}
