package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ctxsync/internal/snapshot"
	"github.com/fyrsmithlabs/ctxsync/internal/vcs"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [root]",
	Short: "Show the stored baseline for a directory",
	Long: `Show where the baseline for a directory is stored, how many files it
tracks, when it was saved and the git HEAD recorded with it.

Examples:
  ctxsync status
  ctxsync status ~/src/project --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

// statusOutput is the JSON form of a status.
type statusOutput struct {
	Root     string     `json:"root"`
	Snapshot string     `json:"snapshot"`
	Files    int        `json:"files"`
	SavedAt  *time.Time `json:"saved_at,omitempty"`
	Git      *vcs.Head  `json:"git,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	root, err := snapshot.Canonicalize(rootArg(args))
	if err != nil {
		return err
	}
	path, err := s.store.Locate(root)
	if err != nil {
		return err
	}
	snap, err := s.store.Load(s.ctx, root)
	if err != nil {
		return err
	}

	out := statusOutput{Root: root, Snapshot: path, Files: len(snap.Files), Git: snap.Git}
	if !snap.CreatedAt.IsZero() {
		saved := snap.CreatedAt
		out.SavedAt = &saved
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "root:     %s\n", out.Root)
	fmt.Fprintf(w, "snapshot: %s\n", out.Snapshot)
	fmt.Fprintf(w, "files:    %d\n", out.Files)
	if out.SavedAt != nil {
		fmt.Fprintf(w, "saved:    %s\n", out.SavedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "saved:    never")
	}
	if out.Git != nil {
		fmt.Fprintf(w, "git:      %s\n", out.Git)
	}
	return nil
}
