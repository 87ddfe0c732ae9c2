package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ctxsync/internal/filesync"
	"github.com/fyrsmithlabs/ctxsync/internal/snapshot"
)

func init() {
	rootCmd.AddCommand(resetCmd)
}

var resetCmd = &cobra.Command{
	Use:   "reset [root]",
	Short: "Delete the stored baseline for a directory",
	Long: `Delete the stored baseline for a directory so the next check reports
every file as added.

Examples:
  ctxsync reset ~/src/project`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	root, err := snapshot.Canonicalize(rootArg(args))
	if err != nil {
		return err
	}
	if err := filesync.DeleteSnapshot(s.ctx, s.store, root); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "baseline removed for %s\n", root)
	return nil
}
