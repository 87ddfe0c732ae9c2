// Package ignore decides which paths of a tracked tree are excluded from
// scanning and change reporting.
//
// Patterns are compiled once into Rules (exact segment, segment wildcard,
// globstar path, extension suffix) and evaluated against a path and every
// one of its ancestors, so excluding a directory prunes its whole subtree.
// Gitignore-style files can contribute additional patterns through Parser.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultIgnoreFiles are the ignore files read from a tracked root.
var DefaultIgnoreFiles = []string{".gitignore", ".contextdignore"}

// Parser collects patterns from gitignore-style files in a tracked root.
type Parser struct {
	// Files are the ignore file names read from the root, in order.
	Files []string
}

// NewParser returns a Parser for files, or DefaultIgnoreFiles when files
// is empty.
func NewParser(files []string) *Parser {
	if len(files) == 0 {
		files = DefaultIgnoreFiles
	}
	return &Parser{Files: files}
}

// ParseRoot returns the deduplicated patterns of every ignore file present
// in root. Absent files contribute nothing.
func (p *Parser) ParseRoot(root string) ([]string, error) {
	var patterns []string
	for _, name := range p.Files {
		lines, err := readPatterns(filepath.Join(root, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		patterns = append(patterns, lines...)
	}
	return deduplicate(patterns), nil
}

func readPatterns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if pattern := parseLine(sc.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	return patterns, sc.Err()
}

// parseLine returns the pattern on one ignore file line, or "" for blank
// lines, comments and negations. A leading backslash escapes a literal
// '#' or '!'.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t\r")
	switch {
	case line == "" || line[0] == '#':
		return ""
	case line[0] == '!':
		// Re-inclusion below an excluded ancestor cannot be honored by
		// ancestor pruning.
		return ""
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	}
	// Other escapes such as \* have no equivalent once Compile treats a
	// backslash as a separator, so those lines are dropped.
	if strings.Contains(line, `\`) {
		return ""
	}
	return line
}

// deduplicate drops repeated patterns, keeping first occurrences in order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]struct{}, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
