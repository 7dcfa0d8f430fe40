// Package filectx assembles bounded text context from files, directories,
// and glob patterns for inclusion in discussion prompts.
package filectx

import (
	"fmt"
	"os"
	"strings"
)

// FileSpec is a tagged union of the ways a caller can reference context
// input. Consumers switch on the concrete type; there is no duck typing.
type FileSpec interface {
	// Describe renders the spec for display in tool output.
	Describe() string

	isFileSpec()
}

// SinglePath references one file in full.
type SinglePath struct {
	Path string
}

// RangedPath references a 1-based inclusive line range of one file.
type RangedPath struct {
	Path string
	From int
	To   int
}

// DirectorySpec references the files under a directory.
type DirectorySpec struct {
	Path       string
	Recursive  bool
	Extensions []string
	Exclude    []string
}

// GlobPattern references files matched by a doublestar pattern.
type GlobPattern struct {
	Pattern string
}

func (SinglePath) isFileSpec()    {}
func (RangedPath) isFileSpec()    {}
func (DirectorySpec) isFileSpec() {}
func (GlobPattern) isFileSpec()   {}

func (s SinglePath) Describe() string { return s.Path }

func (s RangedPath) Describe() string {
	from, to := "?", "?"
	if s.From > 0 {
		from = fmt.Sprintf("%d", s.From)
	}
	if s.To > 0 {
		to = fmt.Sprintf("%d", s.To)
	}
	return fmt.Sprintf("%s:%s-%s", s.Path, from, to)
}

func (s DirectorySpec) Describe() string {
	desc := s.Path
	if s.Recursive {
		desc += " (recursive)"
	}
	if len(s.Extensions) > 0 {
		desc += fmt.Sprintf(" [%s]", strings.Join(s.Extensions, ", "))
	}
	return desc
}

func (s GlobPattern) Describe() string { return "Pattern: " + s.Pattern }

// hasGlobMeta reports whether a path string contains glob metacharacters.
func hasGlobMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}

// ParseSpec converts a raw tool argument (a string, or an object with a
// path plus options) into a FileSpec.
func ParseSpec(raw any) (FileSpec, error) {
	switch v := raw.(type) {
	case string:
		return parseString(v)
	case map[string]any:
		return parseObject(v)
	default:
		return nil, fmt.Errorf("invalid file spec type %T", raw)
	}
}

func parseString(path string) (FileSpec, error) {
	if path == "" {
		return nil, fmt.Errorf("empty file spec")
	}
	if hasGlobMeta(path) {
		return GlobPattern{Pattern: path}, nil
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return DirectorySpec{Path: path, Recursive: true}, nil
	}
	return SinglePath{Path: path}, nil
}

func parseObject(obj map[string]any) (FileSpec, error) {
	path, _ := obj["path"].(string)

	if pattern, ok := obj["pattern"].(string); ok && pattern != "" {
		if path != "" {
			pattern = strings.TrimSuffix(path, "/") + "/" + pattern
		}
		return GlobPattern{Pattern: pattern}, nil
	}

	if path == "" {
		return nil, fmt.Errorf("file spec object missing path")
	}
	if hasGlobMeta(path) {
		return GlobPattern{Pattern: path}, nil
	}

	from := intArg(obj, "from")
	to := intArg(obj, "to")
	if from > 0 || to > 0 {
		return RangedPath{Path: path, From: from, To: to}, nil
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		recursive := true
		if r, ok := obj["recursive"].(bool); ok {
			recursive = r
		}
		return DirectorySpec{
			Path:       path,
			Recursive:  recursive,
			Extensions: stringsArg(obj, "extensions"),
			Exclude:    stringsArg(obj, "exclude"),
		}, nil
	}

	return SinglePath{Path: path}, nil
}

// ParseSpecs converts a list of raw tool arguments into FileSpecs,
// collecting per-entry errors rather than failing the whole list.
func ParseSpecs(raw []any) ([]FileSpec, []string) {
	specs := make([]FileSpec, 0, len(raw))
	var errs []string
	for _, entry := range raw {
		spec, err := ParseSpec(entry)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		specs = append(specs, spec)
	}
	return specs, errs
}

func intArg(obj map[string]any, key string) int {
	switch v := obj[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringsArg(obj map[string]any, key string) []string {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
