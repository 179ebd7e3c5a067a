//go:build mage

// Package main contains Mage build targets for kbforge developer tooling.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// kbDirs lists the knowledge base directories a fresh output root starts with.
var kbDirs = []string{
	"inbox/raw",
	"inbox/analyzed",
	"questions",
	"answers",
	"notes",
	"topics",
	"people",
}

const (
	binDir  = "bin"
	binName = "kbforge"
	cmdPkg  = "./cmd/kbforge"

	// buildTags enables the FTS5 extension compiled into go-sqlite3.
	buildTags = "sqlite_fts5"
)

// kbRoot is the knowledge base the run targets operate on.
func kbRoot() string {
	if v := os.Getenv("KBFORGE_OUTPUT"); v != "" {
		return v
	}
	return "kb"
}

// Init creates an empty knowledge base under $KBFORGE_OUTPUT (default kb/).
func Init() error {
	root := kbRoot()
	for _, dir := range kbDirs {
		path := filepath.Join(root, dir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		fmt.Println("  ", path)
	}
	fmt.Println("Knowledge base directories initialized.")
	return nil
}

// Build compiles the CLI binary into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, binName)
	if err := sh.RunV("go", "build", "-tags", buildTags, "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-tags", buildTags, "./...")
}

// Vet runs go vet with the build tags the binary uses.
func Vet() error {
	return sh.RunV("go", "vet", "-tags", buildTags, "./...")
}

// Check runs vet and the tests.
func Check() {
	mg.SerialDeps(Vet, Test)
}

// Stats prints Go line counts and the size of the knowledge base.
func Stats() error {
	prod, tests, err := countGoLines(".")
	if err != nil {
		return err
	}
	fmt.Printf("Lines of code (Go, production): %d\n", prod)
	fmt.Printf("Lines of code (Go, tests):      %d\n", tests)

	root := kbRoot()
	for _, dir := range []string{"questions", "answers", "notes", "topics", "people"} {
		n, err := countMarkdown(filepath.Join(root, dir))
		if err != nil {
			return err
		}
		fmt.Printf("%-32s%d\n", "Files ("+dir+"):", n)
	}
	return nil
}

// Ingest builds the CLI and ingests every file in $KBFORGE_DROP (default drop/).
func Ingest() error {
	mg.Deps(Build)
	drop := os.Getenv("KBFORGE_DROP")
	if drop == "" {
		drop = "drop"
	}
	entries, err := os.ReadDir(drop)
	if err != nil {
		return fmt.Errorf("reading %s: %w", drop, err)
	}
	bin := filepath.Join(binDir, binName)
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := sh.RunV(bin, "ingest", "-o", kbRoot(), filepath.Join(drop, e.Name())); err != nil {
			return fmt.Errorf("ingesting %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Regenerate rebuilds listings and statistics without AI calls.
func Regenerate() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "regenerate", "-o", kbRoot())
}

// countGoLines counts non-blank lines in production and test Go files,
// skipping the read-only reference trees.
func countGoLines(root string) (prod, tests int, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		n := 0
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) != "" {
				n++
			}
		}
		if strings.HasSuffix(path, "_test.go") {
			tests += n
		} else {
			prod += n
		}
		return nil
	})
	return prod, tests, err
}

// countMarkdown counts .md files under dir; a missing dir counts zero.
func countMarkdown(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".md" {
			n++
		}
		return nil
	})
	return n, err
}
