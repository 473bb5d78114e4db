package source

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLocalSource(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "root readme")
	writeFile(t, root, "handbook/intro.md", "# Intro")
	writeFile(t, root, "handbook/policies/leave.md", "leave policy")
	writeFile(t, root, "handbook/image.png", "binary")
	writeFile(t, root, "faq/questions.txt", "questions")
	writeFile(t, root, "node_modules/pkg/readme.md", "ignored")
	writeFile(t, root, "empty/notes.bin", "ignored")

	s, err := NewLocalSource(root, []string{"**/*.md", "**/*.txt"}, []string{"**/node_modules/**"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	sources, err := s.ListDocumentSources(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{".", "faq", "handbook"}; !slices.Equal(sources, want) {
		t.Errorf("got sources %v, want %v", sources, want)
	}

	docs, err := s.ListDocuments(ctx, "handbook")
	if err != nil {
		t.Fatal(err)
	}
	var slugs []string
	for _, d := range docs {
		slugs = append(slugs, d.Slug)
	}
	if want := []string{"intro.md", "policies/leave.md"}; !slices.Equal(slugs, want) {
		t.Errorf("got slugs %v, want %v", slugs, want)
	}
	if docs[0].Title != "intro" || docs[0].ID != "handbook/intro.md" || docs[0].CreatedAt == "" {
		t.Errorf("unexpected ref %+v", docs[0])
	}

	rootDocs, err := s.ListDocuments(ctx, RootSourceID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rootDocs) != 1 || rootDocs[0].Slug != "README.md" {
		t.Errorf("unexpected root documents %+v", rootDocs)
	}

	body, err := s.FetchDocumentBody(ctx, "handbook", "policies/leave.md")
	if err != nil {
		t.Fatal(err)
	}
	if body != "leave policy" {
		t.Errorf("unexpected body %q", body)
	}

	if _, err := s.FetchDocumentBody(ctx, "handbook", "../faq/questions.txt"); err == nil {
		t.Error("expected error for a path outside the source")
	}
}

func TestNewLocalSourceRequiresDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file.md", "x")
	if _, err := NewLocalSource(filepath.Join(root, "file.md"), nil, nil); err == nil {
		t.Error("expected error for a file path")
	}
	if _, err := NewLocalSource(filepath.Join(root, "missing"), nil, nil); err == nil {
		t.Error("expected error for a missing path")
	}
}

func TestFilter(t *testing.T) {
	f := NewFilter([]string{"**/*.md"}, []string{"drafts/**"})
	tests := []struct {
		path string
		want bool
	}{
		{"a.md", true},
		{"docs/deep/b.md", true},
		{"drafts/c.md", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		if got := f.Match(tt.path); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	if !NewFilter(nil, nil).Match("anything/at/all") {
		t.Error("filter without includes should match everything")
	}
}
