package vectorindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/viant/bintly"

	"kbrag/internal/domain"
)

func populated(t *testing.T) *FlatIndex {
	t.Helper()
	x := newCreated(t, 3)
	err := x.Add(
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {0.5, 0.5, 0}},
		[]domain.Chunk{
			{Content: "[Q1 Report | Li]\nrevenue", Metadata: map[string]any{domain.MetaTitle: "Q1 Report", domain.MetaDocID: "42", "ordinal": 0, "weight": 0.5}},
			{Content: "costs", Metadata: map[string]any{domain.MetaRepo: "team/finance"}},
			{Content: "headcount"},
			{Content: "mixed"},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "index")
	src := populated(t)

	if err := src.Save(ctx, base); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !Exists(ctx, base) {
		t.Fatal("artifacts should exist after save")
	}

	dst, err := Open(ctx, base, 3)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if dst.State() != Populated {
		t.Errorf("expected populated, got %s", dst.State())
	}
	if dst.Count() != src.Count() {
		t.Fatalf("count %d, want %d", dst.Count(), src.Count())
	}

	probe := [][]float32{{0.9, 0.4, 0.1}}
	want, _ := src.Search(probe, 4)
	got, err := dst.Search(probe, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want[0] {
		if got[0][i].Chunk.Content != want[0][i].Chunk.Content || got[0][i].Score != want[0][i].Score {
			t.Errorf("rank %d: got %+v, want %+v", i, got[0][i], want[0][i])
		}
	}

	first, _ := dst.Chunk(0)
	if first.MetaString(domain.MetaTitle) != "Q1 Report" || first.MetaString(domain.MetaDocID) != "42" {
		t.Errorf("string metadata lost: %v", first.Metadata)
	}
	if first.Metadata["ordinal"] != 0 {
		t.Errorf("int metadata lost: %v", first.Metadata["ordinal"])
	}
	if first.Metadata["weight"] != 0.5 {
		t.Errorf("float metadata lost: %v", first.Metadata["weight"])
	}
}

func TestSaveEmptyCreatedIndex(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "empty")
	if err := newCreated(t, 2).Save(ctx, base); err != nil {
		t.Fatal(err)
	}
	x, err := Open(ctx, base, 2)
	if err != nil {
		t.Fatal(err)
	}
	if x.Count() != 0 {
		t.Errorf("expected empty index, got %d", x.Count())
	}
}

func TestSaveUninitialized(t *testing.T) {
	x, _ := New(2)
	if err := x.Save(context.Background(), filepath.Join(t.TempDir(), "x")); !errors.Is(err, ErrUninitialized) {
		t.Errorf("expected ErrUninitialized, got %v", err)
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	if _, err := Open(ctx, filepath.Join(dir, "nothing"), 3); !errors.Is(err, ErrArtifactMissing) {
		t.Errorf("expected ErrArtifactMissing, got %v", err)
	}

	base := filepath.Join(dir, "index")
	if err := populated(t).Save(ctx, base); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(base + ChunksSuffix); err != nil {
		t.Fatal(err)
	}
	if Exists(ctx, base) {
		t.Error("Exists should require both artifacts")
	}
	if _, err := Open(ctx, base, 3); !errors.Is(err, ErrArtifactMissing) {
		t.Errorf("expected ErrArtifactMissing, got %v", err)
	}
}

func TestLoadCountMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	big := filepath.Join(dir, "big")
	small := filepath.Join(dir, "small")

	if err := populated(t).Save(ctx, big); err != nil {
		t.Fatal(err)
	}
	x := newCreated(t, 3)
	if err := x.Add([][]float32{{1, 1, 1}}, []domain.Chunk{{Content: "only"}}); err != nil {
		t.Fatal(err)
	}
	if err := x.Save(ctx, small); err != nil {
		t.Fatal(err)
	}

	// pair the vectors of one index with the chunks of the other
	data, err := os.ReadFile(small + ChunksSuffix)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(big+ChunksSuffix, data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(ctx, big, 3); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "index")
	if err := populated(t).Save(ctx, base); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(ctx, base, 768); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestLoadRejectsArtifactsFromDifferentSaves(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")

	if err := populated(t).Save(ctx, a); err != nil {
		t.Fatal(err)
	}
	other := newCreated(t, 3)
	err := other.Add(
		[][]float32{{0, 0, 1}, {0, 1, 0}, {1, 0, 0}, {0, 0.5, 0.5}},
		[]domain.Chunk{chunk("alpha"), chunk("beta"), chunk("gamma"), chunk("delta")},
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Save(ctx, b); err != nil {
		t.Fatal(err)
	}

	// same count, so only the pair token can tell them apart
	data, err := os.ReadFile(b + VectorsSuffix)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a+VectorsSuffix, data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(ctx, a, 3); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestSaveLeavesNoTemporaryFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	base := filepath.Join(dir, "index")
	x := populated(t)
	for i := 0; i < 2; i++ {
		if err := x.Save(ctx, base); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 || names[0] != "index.docs" || names[1] != "index.vec" {
		t.Errorf("unexpected files after save: %v", names)
	}
	if _, err := Open(ctx, base, 3); err != nil {
		t.Errorf("open after overwrite: %v", err)
	}
}

func TestLoadInflatedCounts(t *testing.T) {
	ctx := context.Background()

	t.Run("vectors", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "index")
		if err := populated(t).Save(ctx, base); err != nil {
			t.Fatal(err)
		}
		data := encodeVectors(3, nil, 1<<34, "token")
		if err := os.WriteFile(base+VectorsSuffix, data, 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(ctx, base, 3); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("chunks", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "index")
		if err := populated(t).Save(ctx, base); err != nil {
			t.Fatal(err)
		}
		writers := bintly.NewWriters()
		w := writers.Get()
		w.String(chunksMagic)
		w.String("token")
		w.Int(1 << 40)
		data := w.Bytes()
		writers.Put(w)
		if err := os.WriteFile(base+ChunksSuffix, data, 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(ctx, base, 3); !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})
}

func TestLoadIntoCreatedIndex(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "index")
	if err := populated(t).Save(ctx, base); err != nil {
		t.Fatal(err)
	}
	err := newCreated(t, 3).Load(ctx, base)
	if !errors.Is(err, ErrInvalidState) || errors.Is(err, ErrAlreadyPopulated) {
		t.Errorf("expected ErrInvalidState naming the created state, got %v", err)
	}
}

func TestLoadIntoPopulatedIndex(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "index")
	x := populated(t)
	if err := x.Save(ctx, base); err != nil {
		t.Fatal(err)
	}
	if err := x.Load(ctx, base); !errors.Is(err, ErrAlreadyPopulated) {
		t.Errorf("expected ErrAlreadyPopulated, got %v", err)
	}
}
