// Package vcs describes the version-control state of a tracked tree.
//
// The description is informational: it is stored next to a snapshot so
// operators can tell which commit a baseline was taken at. Change detection
// never depends on it.
package vcs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepository indicates the directory is not inside a Git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Head identifies the checked-out revision of a work tree.
type Head struct {
	// Branch is the short branch name, or "detached".
	Branch string `json:"branch"`
	// Commit is the full hex commit hash HEAD resolves to.
	Commit string `json:"commit"`
}

// Describe returns the HEAD of the Git repository containing dir.
//
// Parent directories are searched for .git, so a tracked subdirectory of a
// repository reports the enclosing repository's HEAD. A repository without
// commits reports ErrNotRepository as well, since there is nothing to pin.
func Describe(dir string) (*Head, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("%w: %s has no commits", ErrNotRepository, dir)
		}
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	head := &Head{
		Branch: "detached",
		Commit: ref.Hash().String(),
	}
	if ref.Name().IsBranch() {
		head.Branch = ref.Name().Short()
	}
	return head, nil
}

// Short returns the first seven characters of the commit hash.
func (h *Head) Short() string {
	if h == nil {
		return ""
	}
	if len(h.Commit) > 7 {
		return h.Commit[:7]
	}
	return h.Commit
}

func (h *Head) String() string {
	if h == nil {
		return ""
	}
	return h.Branch + "@" + h.Short()
}
