// Package scanner walks a tracked tree and fingerprints every included file.
//
// Directories excluded by the ignore matcher are pruned before descent, so
// their contents are never listed. Regular files are hashed with SHA-256 by a
// bounded pool of workers; the resulting map does not depend on the order in
// which workers finish. Failures on individual entries are logged and the
// entry is skipped, while a missing or unreadable root fails the scan.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ctxsync/internal/snapshot"
)

// Errors for scan operations.
var (
	// ErrNotFound indicates the root does not exist or is not a directory.
	ErrNotFound = errors.New("root directory not found")

	// ErrPermissionDenied classifies per-entry permission failures. It is
	// logged and never returned from Scan.
	ErrPermissionDenied = errors.New("permission denied")
)

// Matcher decides whether a root-relative path is excluded.
type Matcher interface {
	IsExcluded(rel string) bool
}

// Result is the outcome of a scan.
type Result struct {
	// Root is the canonical root that was scanned.
	Root string
	// Files maps each included file to its content fingerprint.
	Files snapshot.Fingerprints
	// Skipped counts entries dropped because of per-entry errors.
	Skipped int
}

// Scanner fingerprints directory trees.
type Scanner struct {
	logger  *zap.Logger
	workers int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger used for skipped entries.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWorkers bounds the number of files hashed concurrently.
// Values below 1 select runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New creates a Scanner.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		logger:  zap.NewNop(),
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = 1
	}
	return s
}

// Workers returns the hashing concurrency bound.
func (s *Scanner) Workers() int {
	return s.workers
}

// Scan walks root and returns the fingerprint of every file not excluded
// by matcher.
func (s *Scanner) Scan(ctx context.Context, root string, matcher Matcher) (*Result, error) {
	canonical, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}

	w := &walk{
		scanner: s,
		root:    canonical,
		matcher: matcher,
		files:   make(snapshot.Fingerprints),
		seen:    make(map[string]bool),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	w.group = g

	walkErr := filepath.WalkDir(canonical, func(path string, d fs.DirEntry, err error) error {
		if cerr := gctx.Err(); cerr != nil {
			return cerr
		}
		return w.visit(gctx, path, d, err)
	})
	// Always drain the workers before returning.
	waitErr := g.Wait()

	if walkErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("walking %s: %w", canonical, walkErr)
	}
	if waitErr != nil {
		return nil, waitErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	s.logger.Debug("scan complete",
		zap.String("root", canonical),
		zap.Int("files", len(w.files)),
		zap.Int("skipped", w.skipped))

	return &Result{Root: canonical, Files: w.files, Skipped: w.skipped}, nil
}

// resolveRoot canonicalizes root and checks it is a readable directory.
func resolveRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", root, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, abs)
		}
		return "", fmt.Errorf("resolving %s: %w", abs, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, canonical)
		}
		return "", fmt.Errorf("stat %s: %w", canonical, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrNotFound, canonical)
	}
	return canonical, nil
}

// walk holds per-scan state. visit runs on the walking goroutine only;
// files is shared with hashing workers under mu.
type walk struct {
	scanner *Scanner
	root    string
	matcher Matcher
	group   *errgroup.Group

	mu      sync.Mutex
	files   snapshot.Fingerprints
	skipped int

	// seen holds canonical relative paths already scheduled for hashing.
	seen map[string]bool
}

func (w *walk) visit(ctx context.Context, path string, d fs.DirEntry, err error) error {
	if path == w.root {
		if err != nil {
			// Failure at the root itself is fatal.
			return err
		}
		return nil
	}

	rel, relErr := w.rel(path)
	if relErr != nil {
		w.skip(path, relErr)
		if d != nil && d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}

	if w.matcher != nil && w.matcher.IsExcluded(rel) {
		if d != nil && d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}

	if err != nil {
		w.skip(rel, err)
		if d != nil && d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}

	switch {
	case d.IsDir():
		return nil
	case d.Type()&fs.ModeSymlink != 0:
		w.visitSymlink(ctx, path, rel)
		return nil
	case d.Type().IsRegular():
		w.schedule(ctx, path, rel)
		return nil
	default:
		// Sockets, devices and named pipes carry no indexable content.
		return nil
	}
}

// visitSymlink records an in-root link to a regular file under the target's
// canonical path. Links to directories are not descended: their targets are
// either inside the root and walked directly, or outside and not followed.
func (w *walk) visitSymlink(ctx context.Context, path, rel string) {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		w.scanner.logger.Debug("skipping unresolvable symlink",
			zap.String("path", rel),
			zap.Error(err))
		return
	}

	targetRel, err := w.rel(target)
	if err != nil || !within(targetRel) {
		w.scanner.logger.Debug("skipping symlink escaping root",
			zap.String("path", rel),
			zap.String("target", target))
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		w.skip(rel, err)
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	if w.matcher != nil && w.matcher.IsExcluded(targetRel) {
		return
	}

	w.schedule(ctx, target, targetRel)
}

// schedule hashes the file at path under rel, at most once per rel.
func (w *walk) schedule(ctx context.Context, path, rel string) {
	if w.seen[rel] {
		return
	}
	w.seen[rel] = true

	w.group.Go(func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sum, err := hashFile(path)
		if err != nil {
			w.skip(rel, err)
			return nil
		}
		w.mu.Lock()
		w.files[rel] = sum
		w.mu.Unlock()
		return nil
	})
}

func (w *walk) skip(rel string, err error) {
	if errors.Is(err, fs.ErrPermission) {
		err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	w.scanner.logger.Warn("skipping entry",
		zap.String("root", w.root),
		zap.String("path", rel),
		zap.Error(err))

	w.mu.Lock()
	w.skipped++
	w.mu.Unlock()
}

// rel returns path relative to the root in slash form.
func (w *walk) rel(path string) (string, error) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", fmt.Errorf("computing relative path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// within reports whether a slash-separated relative path stays inside the root.
func within(rel string) bool {
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, "../") && !filepath.IsAbs(rel)
}

// hashFile streams the file through SHA-256.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reading: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the fingerprint Scan would record for content.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
