// Package reindex applies change sets to a document store, one document per
// file.
//
// Added and modified paths are read from disk and upserted with their
// relative path as the document ID. Removed paths are deleted. Files that
// are too large, empty, or not valid UTF-8 are skipped, and any document
// previously stored for them is removed.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxsync/internal/diff"
	"github.com/fyrsmithlabs/ctxsync/internal/scanner"
)

// Defaults.
const (
	DefaultMaxFileSize = 1024 * 1024 // 1MB
	DefaultBatchSize   = 64
)

// Metadata keys stored with each document.
const (
	MetaFilePath    = "file_path"
	MetaFingerprint = "fingerprint"
	MetaExtension   = "extension"
)

// Result summarizes one Apply.
type Result struct {
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
}

// Indexer reads changed files under a root and writes them to a DocumentStore.
type Indexer struct {
	root        string
	store       DocumentStore
	logger      *zap.Logger
	maxFileSize int64
	batchSize   int
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithMaxFileSize skips files larger than n bytes.
func WithMaxFileSize(n int64) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.maxFileSize = n
		}
	}
}

// WithBatchSize bounds the documents sent per Upsert call.
func WithBatchSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// NewIndexer creates an Indexer for files under root.
func NewIndexer(root string, store DocumentStore, opts ...Option) *Indexer {
	ix := &Indexer{
		root:        root,
		store:       store,
		logger:      zap.NewNop(),
		maxFileSize: DefaultMaxFileSize,
		batchSize:   DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Apply upserts cs.Upserts() and deletes cs.Removed.
func (ix *Indexer) Apply(ctx context.Context, cs diff.ChangeSet) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Indexer.Apply")
	defer span.End()

	res := &Result{}
	modified := make(map[string]bool, len(cs.Modified))
	for _, p := range cs.Modified {
		modified[p] = true
	}

	stale := append([]string(nil), cs.Removed...)
	batch := make([]Document, 0, ix.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ix.store.Upsert(ctx, batch); err != nil {
			return err
		}
		res.Upserted += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, rel := range cs.Upserts() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		doc, ok := ix.load(rel)
		if !ok {
			res.Skipped++
			if modified[rel] {
				stale = append(stale, rel)
			}
			continue
		}
		batch = append(batch, doc)
		if len(batch) >= ix.batchSize {
			if err := flush(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return res, fmt.Errorf("upserting documents: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("upserting documents: %w", err)
	}

	if len(stale) > 0 {
		if err := ix.store.Delete(ctx, stale...); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, fmt.Errorf("deleting documents: %w", err)
		}
		res.Deleted = len(stale)
	}

	span.SetAttributes(
		attribute.Int("upserted", res.Upserted),
		attribute.Int("deleted", res.Deleted),
		attribute.Int("skipped", res.Skipped),
	)
	span.SetStatus(codes.Ok, "success")

	ix.logger.Info("index updated",
		zap.String("root", ix.root),
		zap.Int("upserted", res.Upserted),
		zap.Int("deleted", res.Deleted),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// load reads rel into a document. It reports false for files that should
// not be indexed.
func (ix *Indexer) load(rel string) (Document, bool) {
	full := filepath.Join(ix.root, filepath.FromSlash(rel))

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			ix.logger.Debug("file vanished before indexing", zap.String("path", rel))
		} else {
			ix.logger.Warn("skipping file", zap.String("path", rel), zap.Error(err))
		}
		return Document{}, false
	}
	if !info.Mode().IsRegular() {
		return Document{}, false
	}
	if info.Size() > ix.maxFileSize {
		ix.logger.Debug("skipping large file",
			zap.String("path", rel),
			zap.Int64("size", info.Size()),
			zap.Int64("max", ix.maxFileSize))
		return Document{}, false
	}

	content, err := os.ReadFile(full)
	if err != nil {
		ix.logger.Warn("skipping file", zap.String("path", rel), zap.Error(err))
		return Document{}, false
	}
	if len(content) == 0 {
		return Document{}, false
	}
	if !utf8.Valid(content) {
		ix.logger.Debug("skipping non-UTF-8 file", zap.String("path", rel))
		return Document{}, false
	}

	return Document{
		ID:      rel,
		Content: string(content),
		Metadata: map[string]string{
			MetaFilePath:    rel,
			MetaFingerprint: scanner.HashBytes(content),
			MetaExtension:   path.Ext(rel),
		},
	}, true
}
