package filesync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/ctxsync/internal/diff"
	"github.com/fyrsmithlabs/ctxsync/internal/ignore"
	"github.com/fyrsmithlabs/ctxsync/internal/snapshot"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func ready(t *testing.T, root string, opts ...Option) *Synchronizer {
	t.Helper()
	s, err := New(root, append([]Option{WithGitMetadata(false)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func check(t *testing.T, s *Synchronizer) diff.ChangeSet {
	t.Helper()
	cs, err := s.CheckForChanges(context.Background())
	require.NoError(t, err)
	return cs
}

func changes(added, removed, modified []string) diff.ChangeSet {
	if added == nil {
		added = []string{}
	}
	if removed == nil {
		removed = []string{}
	}
	if modified == nil {
		modified = []string{}
	}
	return diff.ChangeSet{Added: added, Removed: removed, Modified: modified}
}

var noChanges = changes(nil, nil, nil)

func TestCheckForChanges_Additivity(t *testing.T) {
	root := t.TempDir()
	s := ready(t, root, WithStore(snapshot.NewMemoryStore()))

	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "b.txt", "beta")

	assert.Equal(t, changes([]string{"a.txt", "b.txt"}, nil, nil), check(t, s))
}

func TestCheckForChanges_Idempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "dir/b.txt", "beta")
	s := ready(t, root, WithStore(snapshot.NewMemoryStore()))

	first := check(t, s)
	assert.Equal(t, []string{"a.txt", "dir/b.txt"}, first.Added)
	assert.Equal(t, noChanges, check(t, s))
}

func TestCheckForChanges_Modification(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "b.txt", "beta")
	s := ready(t, root, WithStore(snapshot.NewMemoryStore()))
	check(t, s)

	writeFile(t, root, "a.txt", "alpha v2")
	// Timestamp-only change must not be reported.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "b.txt"), future, future))

	assert.Equal(t, changes(nil, nil, []string{"a.txt"}), check(t, s))
}

func TestCheckForChanges_Removal(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "b.txt", "beta")
	s := ready(t, root, WithStore(snapshot.NewMemoryStore()))
	check(t, s)

	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))

	assert.Equal(t, changes(nil, []string{"b.txt"}, nil), check(t, s))
}

func TestCheckForChanges_IgnoredPatternNeverReported(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	s := ready(t, root, WithStore(snapshot.NewMemoryStore()), WithIgnorePatterns("*.log"))

	writeFile(t, root, "c.log", "first")
	writeFile(t, root, "logs/deep/d.log", "first")
	cs := check(t, s)
	assert.Equal(t, []string{"a.txt"}, cs.Added)

	writeFile(t, root, "c.log", "second")
	assert.Equal(t, noChanges, check(t, s))

	require.NoError(t, os.Remove(filepath.Join(root, "c.log")))
	assert.Equal(t, noChanges, check(t, s))
	assert.NotContains(t, s.Baseline(), "c.log")
}

func TestCheckForChanges_DefaultDenylist(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, ".git/config", "[core]")
	writeFile(t, root, "node_modules/x/index.js", "module.exports = 1")
	s := ready(t, root, WithStore(snapshot.NewMemoryStore()))

	assert.Equal(t, []string{"main.go"}, check(t, s).Added)
}

func TestCheckForChanges_IgnoreFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "# build output\n/dist/\n*.tmp\n!keep.tmp\n")
	writeFile(t, root, "src/a.go", "package a")
	writeFile(t, root, "dist/bundle.js", "x")
	writeFile(t, root, "scratch.tmp", "x")

	s := ready(t, root, WithStore(snapshot.NewMemoryStore()), WithIgnoreFiles(".gitignore"))

	assert.Equal(t, []string{".gitignore", "src/a.go"}, check(t, s).Added)
	assert.Contains(t, s.Patterns(), "*.tmp")
}

func TestCheckForChanges_InvalidIgnoreFileLineSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".contextdignore", "a/../b\n*.bak\n")
	writeFile(t, root, "x.bak", "x")
	writeFile(t, root, "y.txt", "y")

	core, logs := observer.New(zapcore.WarnLevel)
	s := ready(t, root,
		WithStore(snapshot.NewMemoryStore()),
		WithIgnoreFiles(".contextdignore"),
		WithLogger(zap.New(core)))

	assert.Equal(t, []string{".contextdignore", "y.txt"}, check(t, s).Added)
	assert.Equal(t, 1, logs.FilterMessage("skipping ignore file pattern").Len())
}

func TestCheckForChanges_CorruptionResilience(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "b.txt", "beta")

	store, err := snapshot.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	first := ready(t, root, WithStore(store))
	check(t, first)

	path, err := store.Locate(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	s := ready(t, root, WithStore(store))
	assert.Empty(t, s.Baseline())
	assert.Equal(t, changes([]string{"a.txt", "b.txt"}, nil, nil), check(t, s))
}

func TestCheckForChanges_SharedBaselineAcrossInstances(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	store, err := snapshot.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	first := ready(t, root, WithStore(store))
	check(t, first)

	writeFile(t, root, "b.txt", "beta")
	second := ready(t, root, WithStore(store))
	assert.Equal(t, changes([]string{"b.txt"}, nil, nil), check(t, second))

	// The first instance still diffs against its own in-memory baseline.
	assert.Equal(t, changes([]string{"b.txt"}, nil, nil), check(t, first))
}

func TestCheckForChanges_PersistsRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "dir/b.txt", "beta")
	store, err := snapshot.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	s := ready(t, root, WithStore(store), WithClock(func() time.Time { return fixed }))
	check(t, s)

	loaded, err := store.Load(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, loaded.Files.Equal(s.Baseline()))
	assert.True(t, fixed.Equal(loaded.CreatedAt))
	assert.Equal(t, s.Root(), loaded.Root)
}

func TestKeyStability(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	store, err := snapshot.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	k1, err := store.Locate(root)
	require.NoError(t, err)
	k2, err := store.Locate(root + string(filepath.Separator))
	require.NoError(t, err)
	k3, err := store.Locate(other)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestDeleteSnapshot_ResetsNextInstance(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "b.txt", "beta")
	store, err := snapshot.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	live := ready(t, root, WithStore(store))
	check(t, live)

	require.NoError(t, DeleteSnapshot(context.Background(), store, root))
	require.NoError(t, DeleteSnapshot(context.Background(), store, root))

	fresh := ready(t, root, WithStore(store))
	assert.Equal(t, changes([]string{"a.txt", "b.txt"}, nil, nil), check(t, fresh))

	// A live instance keeps its stale baseline until re-initialized.
	require.NoError(t, DeleteSnapshot(context.Background(), store, root))
	assert.Equal(t, noChanges, check(t, live))
	require.NoError(t, DeleteSnapshot(context.Background(), store, root))
	require.NoError(t, live.Initialize(context.Background()))
	assert.Equal(t, changes([]string{"a.txt", "b.txt"}, nil, nil), check(t, live))
}

func TestDeleteSnapshot_OnlyTargetRoot(t *testing.T) {
	store := snapshot.NewMemoryStore()
	rootA, rootB := t.TempDir(), t.TempDir()
	writeFile(t, rootA, "a.txt", "a")
	writeFile(t, rootB, "b.txt", "b")
	check(t, ready(t, rootA, WithStore(store)))
	check(t, ready(t, rootB, WithStore(store)))

	require.NoError(t, DeleteSnapshot(context.Background(), store, rootA))
	assert.Equal(t, 1, store.Len())
	assert.Error(t, DeleteSnapshot(context.Background(), nil, rootA))
}

func TestCheckForChanges_SaveFailureKeepsBaselines(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	store := snapshot.NewMemoryStore()
	s := ready(t, root, WithStore(store))
	check(t, s)
	before := s.Baseline()

	writeFile(t, root, "b.txt", "beta")
	store.SaveErr = errors.New("disk full")

	_, err := s.CheckForChanges(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIOFailure)
	assert.Equal(t, before, s.Baseline())

	persisted, err := store.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, before, persisted.Files)

	// Retry after recovery reports the change once.
	store.SaveErr = nil
	assert.Equal(t, changes([]string{"b.txt"}, nil, nil), check(t, s))
}

func TestCheckForChanges_ScanFailureKeepsBaselines(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "tree")
	writeFile(t, root, "a.txt", "alpha")
	store := snapshot.NewMemoryStore()
	s := ready(t, root, WithStore(store))
	check(t, s)

	require.NoError(t, os.RemoveAll(root))

	_, err := s.CheckForChanges(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, s.Baseline(), "a.txt")
}

func TestCheckForChanges_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	store := snapshot.NewMemoryStore()
	s := ready(t, root, WithStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CheckForChanges(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Baseline())
	assert.Equal(t, 0, store.Len())
}

func TestCheckForChanges_NotInitialized(t *testing.T) {
	s, err := New(t.TempDir(), WithStore(snapshot.NewMemoryStore()))
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, s.State())
	assert.Nil(t, s.Baseline())

	_, err = s.CheckForChanges(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitialize_NotFound(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	s, err := New(missing, WithStore(snapshot.NewMemoryStore()))
	require.NoError(t, err)

	err = s.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StateUninitialized, s.State())

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	s, err = New(file, WithStore(snapshot.NewMemoryStore()))
	require.NoError(t, err)
	assert.ErrorIs(t, s.Initialize(context.Background()), ErrNotFound)
}

func TestInitialize_DoesNotScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	store := snapshot.NewMemoryStore()

	s := ready(t, root, WithStore(store))
	assert.Equal(t, StateReady, s.State())
	assert.Empty(t, s.Baseline())
	assert.Equal(t, 0, store.Len())
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New(t.TempDir(), WithStore(snapshot.NewMemoryStore()), WithIgnorePatterns("a/../b"))
	assert.ErrorIs(t, err, ignore.ErrInvalidPattern)
}

func TestNew_DefaultStore(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	s, err := New(t.TempDir())
	require.NoError(t, err)
	fs, ok := s.store.(*snapshot.FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".config", "contextd", "snapshots"), fs.Dir())
}

func TestCheckForChanges_RecordsGitHead(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	writeFile(t, root, "README.md", "hello\n")
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	store := snapshot.NewMemoryStore()
	s, err := New(root, WithStore(store))
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))

	assert.Equal(t, []string{"README.md"}, check(t, s).Added)

	persisted, err := store.Load(context.Background(), root)
	require.NoError(t, err)
	require.NotNil(t, persisted.Git)
	assert.Equal(t, hash.String(), persisted.Git.Commit)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "State(7)", State(7).String())
}

func TestCheckForChanges_UnusualFileNamesSurviveReload(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("backslashes and non-UTF-8 bytes are only ordinary filename bytes on linux")
	}

	tests := []struct {
		name string
		file string
	}{
		{"backslash", `we\ird.txt`},
		{"invalid utf-8", "bad\xff.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, "a.txt", "alpha")
			require.NoError(t, os.WriteFile(filepath.Join(root, tt.file), []byte("odd"), 0644))
			store, err := snapshot.NewFileStore(t.TempDir(), nil)
			require.NoError(t, err)

			first := check(t, ready(t, root, WithStore(store)))
			assert.Equal(t, changes([]string{"a.txt", tt.file}, nil, nil), first)

			// A fresh instance loads the persisted baseline and sees nothing new.
			assert.Equal(t, noChanges, check(t, ready(t, root, WithStore(store))))

			require.NoError(t, os.Remove(filepath.Join(root, tt.file)))
			assert.Equal(t, changes(nil, []string{tt.file}, nil), check(t, ready(t, root, WithStore(store))))
		})
	}
}
