package reindex

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/ctxsync/internal/reindex")

// ErrInvalidConfig indicates a store could not be built from its inputs.
var ErrInvalidConfig = errors.New("invalid index configuration")

// Document is one indexed file.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// DocumentStore receives per-file documents.
type DocumentStore interface {
	// Upsert adds docs, replacing any with the same ID.
	Upsert(ctx context.Context, docs []Document) error
	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids ...string) error
}

// ChromemStore keeps documents in a chromem-go collection.
type ChromemStore struct {
	collection  *chromem.Collection
	logger      *zap.Logger
	concurrency int
}

// NewChromemStore opens collection name in db, creating it if needed.
func NewChromemStore(db *chromem.DB, name string, embed chromem.EmbeddingFunc, logger *zap.Logger) (*ChromemStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is required", ErrInvalidConfig)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: collection name is required", ErrInvalidConfig)
	}
	if embed == nil {
		return nil, fmt.Errorf("%w: embedding function is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	collection, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	return &ChromemStore{
		collection:  collection,
		logger:      logger,
		concurrency: runtime.NumCPU(),
	}, nil
}

// OllamaEmbedding returns an embedding function backed by an Ollama server.
// An empty baseURL uses chromem's default of http://localhost:11434/api.
func OllamaEmbedding(baseURL, model string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOllama(model, baseURL)
}

// OpenChromemStore opens a persistent, compressed chromem database at path
// and the named collection in it.
func OpenChromemStore(path, name string, embed chromem.EmbeddingFunc, logger *zap.Logger) (*ChromemStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	db, err := chromem.NewPersistentDB(path, true)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db at %s: %w", path, err)
	}
	return NewChromemStore(db, name, embed, logger)
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count() int {
	return s.collection.Count()
}

// Upsert embeds and stores docs.
func (s *ChromemStore) Upsert(ctx context.Context, docs []Document) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return nil
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}
	}

	if err := s.collection.AddDocuments(ctx, chromemDocs, s.concurrency); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete removes documents by ID, continuing past individual failures.
func (s *ChromemStore) Delete(ctx context.Context, ids ...string) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	var failures []string
	for _, id := range ids {
		if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
			span.RecordError(err)
			s.logger.Error("failed to delete document",
				zap.String("id", id),
				zap.Error(err))
			failures = append(failures, id)
		}
	}

	if len(failures) > 0 {
		span.SetStatus(codes.Error, "partial deletion failure")
		return fmt.Errorf("failed to delete %d of %d documents: %v", len(failures), len(ids), failures)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}
