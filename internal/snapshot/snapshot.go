// Package snapshot persists content-fingerprint maps of tracked trees.
//
// A Snapshot maps root-relative, slash-separated file paths to a content
// fingerprint. Snapshots are stored per root under a deterministic storage
// key derived from the canonical absolute root path, so every process that
// tracks the same directory shares one baseline.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/ctxsync/internal/vcs"
)

// Errors for snapshot operations.
var (
	// ErrCorruptState indicates persisted data could not be decoded. Stores
	// log it and fall back to an empty snapshot; it is never returned by Load.
	ErrCorruptState = errors.New("snapshot state corrupted")

	// ErrIOFailure indicates the snapshot could not be written or removed.
	ErrIOFailure = errors.New("snapshot I/O failure")
)

// Fingerprints maps a root-relative path to its content fingerprint.
type Fingerprints map[string]string

// Clone returns a copy that shares no storage with f.
func (f Fingerprints) Clone() Fingerprints {
	out := make(Fingerprints, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Equal reports whether f and other hold the same entries.
func (f Fingerprints) Equal(other Fingerprints) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Snapshot is the fingerprint map of a tree plus its metadata.
type Snapshot struct {
	// Root is the canonical absolute path of the tracked tree.
	Root string
	// Files holds one fingerprint per included regular file.
	Files Fingerprints
	// CreatedAt is when the snapshot was taken, in UTC. Zero for empty
	// snapshots that were never persisted.
	CreatedAt time.Time
	// Git is the HEAD of the enclosing repository at scan time, if any.
	Git *vcs.Head
}

// Empty returns an empty snapshot for root.
func Empty(root string) *Snapshot {
	return &Snapshot{Root: root, Files: Fingerprints{}}
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Root:      s.Root,
		Files:     s.Files.Clone(),
		CreatedAt: s.CreatedAt,
	}
	if s.Git != nil {
		g := *s.Git
		out.Git = &g
	}
	return out
}

// Store loads, saves and deletes snapshots keyed by root directory.
//
// Implementations must make Save atomic: a reader never observes a partially
// written snapshot, and a failed Save leaves the previous one intact.
type Store interface {
	// Locate returns where the snapshot for root is kept.
	Locate(root string) (string, error)

	// Load returns the persisted snapshot for root. Missing or corrupt state
	// yields an empty snapshot and a nil error.
	Load(ctx context.Context, root string) (*Snapshot, error)

	// Save replaces the persisted snapshot for s.Root.
	Save(ctx context.Context, s *Snapshot) error

	// Delete removes the persisted snapshot for root. Absent state is not
	// an error.
	Delete(ctx context.Context, root string) error
}

// Canonicalize returns the absolute, cleaned form of root with symlinks
// evaluated. If root no longer exists the cleaned absolute path is returned,
// so state for a deleted tree can still be located.
func Canonicalize(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("root path cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

// Key returns the storage key for root: the hex SHA-256 of its canonical
// path. Equal roots always produce equal keys.
func Key(root string) (string, error) {
	canonical, err := Canonicalize(root)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}
