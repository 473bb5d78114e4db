package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"kbrag/internal/domain"
)

// RootSourceID names the files that sit directly under the root directory.
const RootSourceID = "."

// LocalSource serves markdown and text files from a directory tree. Each
// top-level directory is a source; a file is a document whose slug is its
// path relative to that directory.
type LocalSource struct {
	root   string
	filter *Filter
}

// NewLocalSource creates a local directory source.
func NewLocalSource(root string, includes, excludes []string) (*LocalSource, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path is not a directory: %s", abs)
	}
	return &LocalSource{root: abs, filter: NewFilter(includes, excludes)}, nil
}

// ListDocumentSources returns the top-level directories holding at least one
// matching file, plus RootSourceID when files sit directly under the root.
// The group is ignored.
func (s *LocalSource) ListDocumentSources(ctx context.Context, _ string) ([]string, error) {
	seen := make(map[string]bool)
	err := s.walk(ctx, s.root, func(rel string, _ fs.FileInfo) {
		id := RootSourceID
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			id = rel[:i]
		}
		seen[id] = true
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListDocuments lists the matching files of one source in path order.
func (s *LocalSource) ListDocuments(ctx context.Context, sourceID string) ([]domain.DocumentRef, error) {
	dir, err := s.sourceDir(sourceID)
	if err != nil {
		return nil, err
	}

	var refs []domain.DocumentRef
	err = s.walk(ctx, dir, func(rel string, info fs.FileInfo) {
		if sourceID == RootSourceID && strings.Contains(rel, "/") {
			return
		}
		slug := rel
		if sourceID != RootSourceID {
			slug = strings.TrimPrefix(rel, sourceID+"/")
		}
		base := filepath.Base(slug)
		refs = append(refs, domain.DocumentRef{
			ID:        rel,
			Slug:      slug,
			Title:     strings.TrimSuffix(base, filepath.Ext(base)),
			CreatedAt: info.ModTime().UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// FetchDocumentBody reads one file.
func (s *LocalSource) FetchDocumentBody(_ context.Context, sourceID, slug string) (string, error) {
	dir, err := s.sourceDir(sourceID)
	if err != nil {
		return "", err
	}
	if !filepath.IsLocal(slug) {
		return "", fmt.Errorf("invalid document path: %s", slug)
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(slug)))
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return string(data), nil
}

func (s *LocalSource) sourceDir(sourceID string) (string, error) {
	if sourceID == RootSourceID || sourceID == "" {
		return s.root, nil
	}
	if !filepath.IsLocal(sourceID) {
		return "", fmt.Errorf("invalid source: %s", sourceID)
	}
	return filepath.Join(s.root, filepath.FromSlash(sourceID)), nil
}

// walk visits matching files under dir; rel is relative to the root and
// uses forward slashes.
func (s *LocalSource) walk(ctx context.Context, dir string, visit func(rel string, info fs.FileInfo)) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if rel != "." && s.filter.Excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if s.filter.Match(rel) {
			visit(rel, info)
		}
		return nil
	})
}

// Filter selects paths with doublestar include and exclude patterns.
type Filter struct {
	includes []string
	excludes []string
}

// NewFilter creates a filter; no includes means everything is included.
func NewFilter(includes, excludes []string) *Filter {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Filter{includes: includes, excludes: excludes}
}

// Match reports whether path is included and not excluded.
func (f *Filter) Match(path string) bool {
	return f.Included(path) && !f.Excluded(path)
}

// Included reports whether path matches an include pattern.
func (f *Filter) Included(path string) bool {
	return matchAny(f.includes, path)
}

// Excluded reports whether path matches an exclude pattern.
func (f *Filter) Excluded(path string) bool {
	return matchAny(f.excludes, path)
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}
