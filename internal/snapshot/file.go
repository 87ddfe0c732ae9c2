package snapshot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxsync/internal/vcs"
)

// recordVersion is the on-disk format version.
const recordVersion = 1

// record is the persisted JSON document.
//
// JSON strings are UTF-8, so paths and roots that are not valid UTF-8 are
// stored base64-encoded in the *_encoded fields instead of being mangled.
type record struct {
	Version      int               `json:"version"`
	Root         string            `json:"root"`
	RootEncoded  string            `json:"root_encoded,omitempty"`
	Files        map[string]string `json:"files"`
	EncodedFiles map[string]string `json:"encoded_files,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Git          *vcs.Head         `json:"git,omitempty"`
}

// newRecord splits snap's paths into plain and encoded entries.
func newRecord(root string, files Fingerprints, createdAt time.Time, git *vcs.Head) record {
	rec := record{
		Version:   recordVersion,
		Root:      root,
		Files:     make(map[string]string, len(files)),
		CreatedAt: createdAt,
		Git:       git,
	}
	if !utf8.ValidString(root) {
		rec.Root = ""
		rec.RootEncoded = base64.StdEncoding.EncodeToString([]byte(root))
	}
	for rel, sum := range files {
		if utf8.ValidString(rel) {
			rec.Files[rel] = sum
			continue
		}
		if rec.EncodedFiles == nil {
			rec.EncodedFiles = make(map[string]string)
		}
		rec.EncodedFiles[base64.StdEncoding.EncodeToString([]byte(rel))] = sum
	}
	return rec
}

// root returns the stored root, decoding it if needed.
func (r record) root() (string, error) {
	if r.RootEncoded == "" {
		return r.Root, nil
	}
	raw, err := base64.StdEncoding.DecodeString(r.RootEncoded)
	if err != nil {
		return "", fmt.Errorf("decoding root: %w", err)
	}
	return string(raw), nil
}

// files merges plain and encoded entries back into one map.
func (r record) files() (Fingerprints, error) {
	files := make(Fingerprints, len(r.Files)+len(r.EncodedFiles))
	for rel, sum := range r.Files {
		files[rel] = sum
	}
	for enc, sum := range r.EncodedFiles {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decoding path %q: %w", enc, err)
		}
		if _, dup := files[string(raw)]; dup {
			return nil, fmt.Errorf("path %q stored twice", raw)
		}
		files[string(raw)] = sum
	}
	return files, nil
}

// DefaultDir returns the default snapshot directory,
// ~/.config/contextd/snapshots.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "contextd", "snapshots"), nil
}

// FileStore keeps one JSON file per root in a directory.
//
// Writes go to a temporary file in the same directory which is synced and
// then renamed over the target, so concurrent writers from different
// processes resolve to last-writer-wins and never leave a torn file.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates a store rooted at dir. An empty dir uses DefaultDir.
// The directory is created lazily on the first Save.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}

	cleanDir := filepath.Clean(dir)
	if strings.Contains(cleanDir, "..") {
		return nil, fmt.Errorf("snapshot dir contains directory traversal: %s", dir)
	}

	return &FileStore{dir: cleanDir, logger: logger}, nil
}

// Dir returns the directory snapshots are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Locate returns the snapshot file path for root.
func (s *FileStore) Locate(root string) (string, error) {
	key, err := Key(root)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, key+".json"), nil
}

// Load reads the snapshot for root.
func (s *FileStore) Load(ctx context.Context, root string) (*Snapshot, error) {
	canonical, err := Canonicalize(root)
	if err != nil {
		return nil, err
	}
	path, err := s.Locate(canonical)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("no persisted snapshot, starting empty",
				zap.String("root", canonical),
				zap.String("path", path))
			return Empty(canonical), nil
		}
		// Unreadable state is handled like corrupt state.
		s.logger.Warn("snapshot unreadable, starting empty",
			zap.String("root", canonical),
			zap.String("path", path),
			zap.Error(fmt.Errorf("%w: %v", ErrCorruptState, err)))
		return Empty(canonical), nil
	}

	snap, err := decode(data, canonical)
	if err != nil {
		s.logger.Warn("snapshot corrupted, starting empty",
			zap.String("root", canonical),
			zap.String("path", path),
			zap.Error(err))
		return Empty(canonical), nil
	}

	s.logger.Debug("snapshot loaded",
		zap.String("root", canonical),
		zap.Int("files", len(snap.Files)),
		zap.Time("created_at", snap.CreatedAt))
	return snap, nil
}

func decode(data []byte, canonical string) (*Snapshot, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptState, rec.Version)
	}
	root, err := rec.root()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if root != canonical {
		return nil, fmt.Errorf("%w: record root %q does not match %q", ErrCorruptState, root, canonical)
	}
	files, err := rec.files()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	for rel := range files {
		if !validRelPath(rel) {
			return nil, fmt.Errorf("%w: invalid path %q", ErrCorruptState, rel)
		}
	}

	return &Snapshot{
		Root:      canonical,
		Files:     files,
		CreatedAt: rec.CreatedAt,
		Git:       rec.Git,
	}, nil
}

// validRelPath rejects absolute paths and paths escaping the root. A
// backslash is an ordinary filename byte on Unix and is accepted.
func validRelPath(rel string) bool {
	if rel == "" || strings.HasPrefix(rel, "/") {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// Save writes snap atomically.
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	canonical, err := Canonicalize(snap.Root)
	if err != nil {
		return err
	}
	path, err := s.Locate(canonical)
	if err != nil {
		return err
	}

	files := snap.Files
	if files == nil {
		files = Fingerprints{}
	}
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(newRecord(canonical, files, createdAt, snap.Git), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling snapshot: %v", ErrIOFailure, err)
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("%w: creating snapshot dir: %v", ErrIOFailure, err)
	}
	if err := writeAtomic(s.dir, path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	s.logger.Debug("snapshot saved",
		zap.String("root", canonical),
		zap.String("path", path),
		zap.Int("files", len(files)))
	return nil
}

// writeAtomic writes data to a temp file in dir, syncs it, and renames it
// over path.
func writeAtomic(dir, path string, data []byte) error {
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// Delete removes the snapshot for root.
func (s *FileStore) Delete(ctx context.Context, root string) error {
	path, err := s.Locate(root)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %v", ErrIOFailure, path, err)
	}
	s.logger.Debug("snapshot deleted",
		zap.String("root", root),
		zap.String("path", path))
	return nil
}
