package main

import (
	"fmt"

	chromem "github.com/philippgille/chromem-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxsync/internal/filesync"
	"github.com/fyrsmithlabs/ctxsync/internal/reindex"
	"github.com/fyrsmithlabs/ctxsync/internal/snapshot"
)

func init() {
	rootCmd.AddCommand(indexCmd)
}

// embeddingFunc builds the embedder for the index command.
var embeddingFunc = func(ollamaURL, model string) chromem.EmbeddingFunc {
	return reindex.OllamaEmbedding(ollamaURL, model)
}

var indexCmd = &cobra.Command{
	Use:   "index [root]",
	Short: "Check for changes and apply them to the file index",
	Long: `Check a directory for changes and apply them to a chromem vector index:
added and modified files are embedded and upserted, removed files are
deleted.

Embeddings come from an Ollama server (index.ollama_url, index.model).
If applying fails, the previous baseline is put back so the next run
reports the same changes again.

Examples:
  ctxsync index ~/src/project`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

// indexOutput is the JSON form of an index run.
type indexOutput struct {
	checkOutput
	Index *reindex.Result `json:"index"`
}

func runIndex(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ic := s.cfg.Index
	store, err := reindex.OpenChromemStore(ic.Path, ic.Collection,
		embeddingFunc(ic.OllamaURL, ic.Model), s.logger.Underlying())
	if err != nil {
		return err
	}

	syncer, err := s.synchronizer(rootArg(args))
	if err != nil {
		return err
	}
	// CheckForChanges replaces the stored baseline before the index is
	// touched; keep the old one so a failed apply can be retried.
	previous, err := s.store.Load(s.ctx, syncer.Root())
	if err != nil {
		return err
	}
	cs, err := syncer.CheckForChanges(s.ctx)
	if err != nil {
		return err
	}

	indexer := reindex.NewIndexer(syncer.Root(), store,
		reindex.WithLogger(s.logger.Underlying()),
		reindex.WithMaxFileSize(ic.MaxFileSize))
	res, err := indexer.Apply(s.ctx, cs)
	if err != nil {
		if rerr := restoreBaseline(s, previous); rerr != nil {
			s.logger.Error(s.ctx, "failed to restore baseline after index failure", zap.Error(rerr))
		}
		return fmt.Errorf("applying changes to index: %w", err)
	}

	out := indexOutput{checkOutput: checkOutput{Root: syncer.Root(), ChangeSet: cs}, Index: res}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	printChanges(cmd.OutOrStdout(), out.checkOutput)
	fmt.Fprintf(cmd.OutOrStdout(), "index: %d upserted, %d deleted, %d skipped\n",
		res.Upserted, res.Deleted, res.Skipped)
	return nil
}

// restoreBaseline puts previous back as the stored baseline. A baseline
// that was never persisted is removed instead.
func restoreBaseline(s *session, previous *snapshot.Snapshot) error {
	if previous.CreatedAt.IsZero() {
		return filesync.DeleteSnapshot(s.ctx, s.store, previous.Root)
	}
	return s.store.Save(s.ctx, previous)
}
