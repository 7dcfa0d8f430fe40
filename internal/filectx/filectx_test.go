package filectx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func lines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		b.WriteString("line ")
		b.WriteString(strings.Repeat("x", 3))
		b.WriteString("\n")
	}
	return b.String()
}

func TestParseSpecString(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "main.go", "package main\n")

	spec, err := ParseSpec(file)
	require.NoError(t, err)
	assert.Equal(t, SinglePath{Path: file}, spec)

	spec, err = ParseSpec(dir)
	require.NoError(t, err)
	assert.Equal(t, DirectorySpec{Path: dir, Recursive: true}, spec)

	spec, err = ParseSpec("src/**/*.go")
	require.NoError(t, err)
	assert.Equal(t, GlobPattern{Pattern: "src/**/*.go"}, spec)

	_, err = ParseSpec("")
	assert.Error(t, err)
}

func TestParseSpecObject(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "a.py", "pass\n")

	spec, err := ParseSpec(map[string]any{"path": file, "from": float64(10), "to": float64(20)})
	require.NoError(t, err)
	assert.Equal(t, RangedPath{Path: file, From: 10, To: 20}, spec)

	spec, err = ParseSpec(map[string]any{
		"path":       dir,
		"recursive":  false,
		"extensions": []any{".py"},
		"exclude":    []any{"test_*"},
	})
	require.NoError(t, err)
	assert.Equal(t, DirectorySpec{Path: dir, Recursive: false, Extensions: []string{".py"}, Exclude: []string{"test_*"}}, spec)

	spec, err = ParseSpec(map[string]any{"path": dir, "pattern": "**/*.py"})
	require.NoError(t, err)
	assert.Equal(t, GlobPattern{Pattern: dir + "/**/*.py"}, spec)

	_, err = ParseSpec(map[string]any{"from": float64(1)})
	assert.Error(t, err)

	_, err = ParseSpec(42)
	assert.Error(t, err)
}

func TestParseSpecsCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "ok.go", "package ok\n")

	specs, errs := ParseSpecs([]any{file, "", 7})
	assert.Len(t, specs, 1)
	assert.Len(t, errs, 2)
}

func TestResolveSingleFile(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "notes.txt", "alpha\nbeta\ngamma\n")

	loader := Loader{ContextType: "general"}
	content, stats := loader.Resolve([]FileSpec{SinglePath{Path: file}})

	assert.Contains(t, content, "--- File: "+file+" ---")
	assert.Contains(t, content, "alpha\nbeta\ngamma")
	assert.Equal(t, 1, stats.FilesProcessed)
	assert.Equal(t, 3, stats.TotalLines)
	assert.Empty(t, stats.Errors)
}

func TestResolveLineRange(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "big.txt", "l1\nl2\nl3\nl4\nl5\n")

	loader := Loader{}
	content, stats := loader.Resolve([]FileSpec{RangedPath{Path: file, From: 2, To: 4}})

	assert.Contains(t, content, "(lines 2-4)")
	assert.Contains(t, content, "l2\nl3\nl4")
	assert.NotContains(t, content, "l1\n")
	assert.NotContains(t, content, "l5")
	assert.Equal(t, 3, stats.TotalLines)
}

func TestResolvePerFileTruncation(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "long.txt", lines(50))

	loader := Loader{MaxLinesPerFile: 10}
	content, stats := loader.Resolve([]FileSpec{SinglePath{Path: file}})

	assert.Contains(t, content, "truncated, showing first 10 lines")
	assert.Equal(t, 10, stats.TotalLines)
}

func TestResolveTotalBudget(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", lines(8))
	b := writeFile(t, dir, "b.txt", lines(8))

	loader := Loader{MaxLinesPerFile: 100, MaxTotalLines: 10}
	content, stats := loader.Resolve([]FileSpec{SinglePath{Path: a}, SinglePath{Path: b}})

	assert.Equal(t, 10, stats.TotalLines)
	assert.Contains(t, content, "truncated due to total line limit")
}

func TestResolveDirectoryByExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "service.go", "package service\n")
	writeFile(t, dir, "readme.md", "# readme\n")
	writeFile(t, dir, "nested/util.go", "package util\n")
	writeFile(t, dir, "node_modules/dep.go", "package dep\n")

	loader := Loader{ContextType: "code"}
	content, stats := loader.Resolve([]FileSpec{DirectorySpec{Path: dir, Recursive: true}})

	assert.Contains(t, content, "service.go")
	assert.Contains(t, content, "util.go")
	assert.NotContains(t, content, "readme.md")
	assert.NotContains(t, content, "node_modules")
	assert.Equal(t, 2, stats.FilesProcessed)
}

func TestResolveNonRecursiveDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "top.go", "package top\n")
	writeFile(t, dir, "sub/inner.go", "package inner\n")

	loader := Loader{ContextType: "code"}
	_, stats := loader.Resolve([]FileSpec{DirectorySpec{Path: dir, Recursive: false}})

	assert.Equal(t, 1, stats.FilesProcessed)
}

func TestResolveGlob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a/one.py", "x = 1\n")
	writeFile(t, dir, "a/b/two.py", "y = 2\n")
	writeFile(t, dir, "a/b/skip.js", "var z\n")

	loader := Loader{}
	content, stats := loader.Resolve([]FileSpec{GlobPattern{Pattern: filepath.Join(dir, "**", "*.py")}})

	assert.Equal(t, 2, stats.FilesProcessed)
	assert.Contains(t, content, "one.py")
	assert.Contains(t, content, "two.py")
	assert.NotContains(t, content, "skip.js")
}

func TestResolveMissingFileReportsError(t *testing.T) {
	loader := Loader{}
	content, stats := loader.Resolve([]FileSpec{SinglePath{Path: "/does/not/exist.txt"}})

	assert.Empty(t, content)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "path not found")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "a.go", SinglePath{Path: "a.go"}.Describe())
	assert.Equal(t, "a.go:5-9", RangedPath{Path: "a.go", From: 5, To: 9}.Describe())
	assert.Equal(t, "src (recursive) [.go, .py]",
		DirectorySpec{Path: "src", Recursive: true, Extensions: []string{".go", ".py"}}.Describe())
	assert.Equal(t, "Pattern: **/*.go", GlobPattern{Pattern: "**/*.go"}.Describe())
}
