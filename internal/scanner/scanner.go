// Package scanner reads a repository into a bounded text bundle for
// reasoning prompts. It walks the tree, keeps files with allow-listed
// extensions, truncates large files, and caps the total context size,
// prioritizing documentation and project metadata.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/repopilot/internal/config"
)

// skipDirs are directory names never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".tox":         true,
	"dist":         true,
	"build":        true,
	".idea":        true,
	".vscode":      true,
}

// priorityNames are files surfaced first in the bundle.
var priorityNames = map[string]int{
	"README.md":        0,
	"README.rst":       1,
	"pyproject.toml":   2,
	"setup.py":         3,
	"package.json":     4,
	"go.mod":           5,
	"Cargo.toml":       6,
	"requirements.txt": 7,
	"Makefile":         8,
}

// File is one scanned repository file.
type File struct {
	Path      string `json:"path"` // relative to the repo root
	Size      int64  `json:"size"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// Stats summarizes a scan.
type Stats struct {
	FilesTotal    int `json:"files_total"`    // matching files found
	FilesIncluded int `json:"files_included"` // files whose content fit the context cap
	BytesRead     int `json:"bytes_read"`
}

// Bundle is the scan output handed to reasoning prompts.
type Bundle struct {
	Root  string `json:"root"`
	Tree  string `json:"tree"`
	Files []File `json:"files"`
	Stats Stats  `json:"stats"`
}

// Scanner walks repositories under the configured limits.
type Scanner struct {
	cfg config.ScannerConfig
}

// New creates a Scanner.
func New(cfg config.ScannerConfig) *Scanner {
	return &Scanner{cfg: cfg}
}

// Scan reads the repository at root into a Bundle. Priority files
// (README, project manifests) come first; remaining files follow in
// path order until the context cap is reached. Files beyond the cap
// appear in the tree but carry no content.
func (s *Scanner) Scan(root string) (*Bundle, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanning %s: not a directory", root)
	}

	allowed := map[string]bool{}
	for _, ext := range s.cfg.Extensions {
		allowed[ext] = true
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if allowed[filepath.Ext(name)] || priorityNames[name] > 0 || name == "README.md" {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Slice(paths, func(i, j int) bool {
		pi, iOK := priorityNames[filepath.Base(paths[i])]
		pj, jOK := priorityNames[filepath.Base(paths[j])]
		switch {
		case iOK && jOK:
			return pi < pj
		case iOK:
			return true
		case jOK:
			return false
		}
		return paths[i] < paths[j]
	})

	bundle := &Bundle{Root: root}
	bundle.Stats.FilesTotal = len(paths)
	budget := s.cfg.MaxContextChars

	for _, rel := range paths {
		f := File{Path: filepath.ToSlash(rel)}
		if budget > 0 {
			content, size, truncated, err := s.readFile(filepath.Join(root, rel))
			if err != nil {
				continue // unreadable files stay in the tree without content
			}
			if len(content) > budget {
				content = content[:budget]
				truncated = true
			}
			f.Size = size
			f.Content = content
			f.Truncated = truncated
			budget -= len(content)
			bundle.Stats.FilesIncluded++
			bundle.Stats.BytesRead += len(content)
		}
		bundle.Files = append(bundle.Files, f)
	}

	bundle.Tree = treeString(bundle.Files)
	return bundle, nil
}

func (s *Scanner) readFile(path string) (content string, size int64, truncated bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, false, err
	}
	text := string(data)
	if s.cfg.MaxFileSize > 0 && len(text) > s.cfg.MaxFileSize {
		text = text[:s.cfg.MaxFileSize]
		truncated = true
	}
	return text, info.Size(), truncated, nil
}

// treeString renders the scanned paths as an indented tree.
func treeString(files []File) string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	sort.Strings(paths)

	var b strings.Builder
	seen := map[string]bool{}
	for _, p := range paths {
		parts := strings.Split(p, "/")
		for depth := range parts {
			prefix := strings.Join(parts[:depth+1], "/")
			if seen[prefix] {
				continue
			}
			seen[prefix] = true
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString(parts[depth])
			if depth < len(parts)-1 {
				b.WriteString("/")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// PromptContext renders the bundle as the repository context block used
// in reasoning prompts.
func (b *Bundle) PromptContext() string {
	var sb strings.Builder
	sb.WriteString("Repository structure:\n")
	sb.WriteString(b.Tree)
	sb.WriteString("\n")
	for _, f := range b.Files {
		if f.Content == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("--- %s ---\n", f.Path))
		sb.WriteString(f.Content)
		if f.Truncated {
			sb.WriteString("\n[truncated]")
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}
