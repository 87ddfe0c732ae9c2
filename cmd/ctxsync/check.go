package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ctxsync/internal/diff"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check [root]",
	Short: "Report changes since the last check",
	Long: `Scan a directory, report what changed since the stored baseline and
store the scan as the new baseline.

The first check of a directory reports every file as added.

Examples:
  # Check the current directory
  ctxsync check

  # Check a project and print JSON
  ctxsync check ~/src/project --json

  # Add ignore patterns
  ctxsync check --ignore '*.log' --ignore 'build/**'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

// checkOutput is the JSON form of a check.
type checkOutput struct {
	Root string `json:"root"`
	diff.ChangeSet
}

func runCheck(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	syncer, err := s.synchronizer(rootArg(args))
	if err != nil {
		return err
	}
	cs, err := syncer.CheckForChanges(s.ctx)
	if err != nil {
		return err
	}

	out := checkOutput{Root: syncer.Root(), ChangeSet: cs}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	printChanges(cmd.OutOrStdout(), out)
	return nil
}

func printChanges(w io.Writer, out checkOutput) {
	if out.Empty() {
		fmt.Fprintf(w, "%s: no changes\n", out.Root)
		return
	}
	fmt.Fprintf(w, "%s: %d added, %d removed, %d modified\n",
		out.Root, len(out.Added), len(out.Removed), len(out.Modified))
	for _, p := range out.Added {
		fmt.Fprintf(w, "  + %s\n", p)
	}
	for _, p := range out.Removed {
		fmt.Fprintf(w, "  - %s\n", p)
	}
	for _, p := range out.Modified {
		fmt.Fprintf(w, "  ~ %s\n", p)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
