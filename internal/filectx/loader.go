package filectx

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/xai-tools/grok-mcp/internal/logging"
)

// Default extensions included when a directory spec names no extensions,
// keyed by context type.
var defaultExtensions = map[string][]string{
	"code": {".py", ".js", ".ts", ".jsx", ".tsx", ".java", ".cpp", ".c", ".h", ".hpp",
		".cs", ".go", ".rs", ".rb", ".php", ".swift", ".kt", ".scala", ".r", ".m"},
	"docs":    {".md", ".txt", ".rst", ".adoc", ".tex", ".org"},
	"general": {},
}

// Directory entries and file patterns that are never included.
var alwaysExclude = []string{
	"__pycache__", ".git", ".svn", ".hg", "node_modules", ".venv", "venv",
	"env", ".env", "*.pyc", "*.pyo", "*.pyd", ".DS_Store", "Thumbs.db",
	"*.egg-info", "dist", "build", ".pytest_cache", ".mypy_cache",
	".coverage", "htmlcov", ".tox", ".idea", ".vscode", "*.swp", "*.swo",
}

// Stats reports what a Resolve call actually read.
type Stats struct {
	FilesProcessed int      `json:"files_processed"`
	TotalLines     int      `json:"total_lines"`
	SkippedFiles   []string `json:"skipped_files,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// Loader assembles context text under line budgets. It is pure and
// stateless: every call depends only on its arguments and the filesystem.
type Loader struct {
	// MaxLinesPerFile caps the lines taken from any one file.
	MaxLinesPerFile int
	// MaxTotalLines caps the lines taken across all files.
	MaxTotalLines int
	// ContextType selects default extensions: code, docs, or general.
	ContextType string
}

// Resolve reads every spec into one text blob, each file prefixed by a
// header line, stopping when the total line budget is spent.
func (l Loader) Resolve(specs []FileSpec) (string, Stats) {
	maxPerFile := l.MaxLinesPerFile
	if maxPerFile <= 0 {
		maxPerFile = 100
	}
	maxTotal := l.MaxTotalLines
	if maxTotal <= 0 {
		maxTotal = 10000
	}

	var parts []string
	stats := Stats{}
	total := 0

	for _, spec := range specs {
		if total >= maxTotal {
			stats.SkippedFiles = append(stats.SkippedFiles, "remaining specs (total line budget reached)")
			break
		}

		files, err := l.expand(spec)
		if err != nil {
			logging.Warn().Str("spec", spec.Describe()).Err(err).Msg("failed to expand file spec")
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", spec.Describe(), err))
			continue
		}

		for _, f := range files {
			if total >= maxTotal {
				stats.SkippedFiles = append(stats.SkippedFiles, f.path)
				continue
			}

			content, lines, err := readLines(f.path, f.from, f.to, maxPerFile, maxTotal-total)
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", f.path, err))
				continue
			}
			if content == "" {
				continue
			}

			header := fmt.Sprintf("--- File: %s", f.path)
			if f.from > 0 || f.to > 0 {
				header += fmt.Sprintf(" (lines %d-%d)", max(f.from, 1), f.to)
			}
			header += " ---"

			parts = append(parts, header+"\n"+content)
			stats.FilesProcessed++
			total += lines
		}
	}

	stats.TotalLines = total
	return strings.Join(parts, "\n"), stats
}

// rangedFile is a resolved file plus an optional line range.
type rangedFile struct {
	path string
	from int
	to   int
}

// expand resolves a spec to the concrete files it names.
func (l Loader) expand(spec FileSpec) ([]rangedFile, error) {
	switch s := spec.(type) {
	case SinglePath:
		if _, err := os.Stat(s.Path); err != nil {
			return nil, fmt.Errorf("path not found")
		}
		return []rangedFile{{path: s.Path}}, nil

	case RangedPath:
		if _, err := os.Stat(s.Path); err != nil {
			return nil, fmt.Errorf("path not found")
		}
		return []rangedFile{{path: s.Path, from: s.From, to: s.To}}, nil

	case DirectorySpec:
		return l.expandDir(s)

	case GlobPattern:
		matches, err := doublestar.FilepathGlob(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern: %w", err)
		}
		var files []rangedFile
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			if excluded(m, nil) {
				continue
			}
			files = append(files, rangedFile{path: m})
		}
		return files, nil

	default:
		return nil, fmt.Errorf("unknown spec type %T", spec)
	}
}

func (l Loader) expandDir(s DirectorySpec) ([]rangedFile, error) {
	extensions := s.Extensions
	if len(extensions) == 0 {
		extensions = defaultExtensions[l.ContextType]
	}

	var files []rangedFile
	err := filepath.WalkDir(s.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != s.Path {
				if excluded(path, s.Exclude) {
					return filepath.SkipDir
				}
				if !s.Recursive {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if excluded(path, s.Exclude) {
			return nil
		}
		if len(extensions) > 0 && !hasExtension(path, extensions) {
			return nil
		}
		files = append(files, rangedFile{path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func hasExtension(path string, extensions []string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// excluded matches the path's base name and components against the built-in
// exclusions plus any extra patterns, with doublestar handling wildcards.
func excluded(path string, extra []string) bool {
	base := filepath.Base(path)
	patterns := append(append([]string{}, alwaysExclude...), extra...)

	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			for _, part := range strings.Split(filepath.ToSlash(path), "/") {
				if part == pattern {
					return true
				}
			}
			continue
		}
		if ok, err := doublestar.Match(pattern, base); err == nil && ok {
			return true
		}
	}
	return false
}

// readLines reads a file with an optional 1-based inclusive line range,
// honoring per-file and remaining-total budgets. It returns the text and
// the number of content lines consumed from the budget.
func readLines(path string, from, to, maxLines, remaining int) (string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	budget := maxLines
	if remaining < budget {
		budget = remaining
	}

	var b strings.Builder
	lines := 0
	lineNo := 0
	truncated := ""

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		if from > 0 && lineNo < from {
			continue
		}
		if to > 0 && lineNo > to {
			break
		}
		if lines >= budget {
			if budget == maxLines {
				truncated = fmt.Sprintf("... (truncated, showing first %d lines)", maxLines)
			} else {
				truncated = "... (truncated due to total line limit)"
			}
			break
		}
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
		lines++
	}
	if err := scanner.Err(); err != nil {
		return "", 0, err
	}

	if truncated != "" {
		b.WriteString(truncated)
		b.WriteByte('\n')
	}

	return b.String(), lines, nil
}
