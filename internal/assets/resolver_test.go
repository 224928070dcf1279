package assets

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"

	"llmbridge/pkg/types"
)

// countingSource wraps a Source and counts Open calls.
type countingSource struct {
	Source
	mu    sync.Mutex
	opens int
}

func (c *countingSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	c.mu.Lock()
	c.opens++
	c.mu.Unlock()
	return c.Source.Open(ctx, name)
}

func TestResolver_CopiesOnceThenReuses(t *testing.T) {
	src := &countingSource{Source: NewFSSource(fstest.MapFS{
		"gemma.bin": {Data: []byte("weights")},
	})}
	cache := t.TempDir()
	r, err := NewResolver(src, cache, nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	ctx := context.Background()
	p1, err := r.Resolve(ctx, "gemma.bin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p1 != filepath.Join(cache, "gemma.bin") {
		t.Fatalf("path = %q", p1)
	}
	b, err := os.ReadFile(p1)
	if err != nil || string(b) != "weights" {
		t.Fatalf("copied content = %q, %v", b, err)
	}
	p2, err := r.Resolve(ctx, "gemma.bin")
	if err != nil || p2 != p1 {
		t.Fatalf("second resolve = %q, %v", p2, err)
	}
	if src.opens != 1 {
		t.Fatalf("expected a single copy, source opened %d times", src.opens)
	}
	entries, _ := os.ReadDir(cache)
	if len(entries) != 1 {
		t.Fatalf("cache should hold only the asset, got %d entries", len(entries))
	}
}

func TestResolver_MissingAsset(t *testing.T) {
	r, _ := NewResolver(NewFSSource(fstest.MapFS{}), t.TempDir(), nil)
	for _, name := range []string{"missing.bin", "../escape.bin", ""} {
		if _, err := r.Resolve(context.Background(), name); !types.IsAssetNotFound(err) {
			t.Fatalf("%q: expected AssetNotFound, got %v", name, err)
		}
	}
}

func TestResolver_DirSourceInPlace(t *testing.T) {
	bundle := t.TempDir()
	if err := os.WriteFile(filepath.Join(bundle, "m.task"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, err := NewDirSource(bundle)
	if err != nil {
		t.Fatalf("dir source: %v", err)
	}
	cache := t.TempDir()
	r, _ := NewResolver(src, cache, nil)
	p, err := r.Resolve(context.Background(), "m.task")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p != filepath.Join(src.Root(), "m.task") {
		t.Fatalf("expected in-place path, got %q", p)
	}
	if entries, _ := os.ReadDir(cache); len(entries) != 0 {
		t.Fatalf("bundled asset should not be copied")
	}
	if _, err := r.Resolve(context.Background(), "other.task"); !types.IsAssetNotFound(err) {
		t.Fatalf("expected AssetNotFound, got %v", err)
	}
}

func TestResolver_ListMarksCached(t *testing.T) {
	src := NewFSSource(fstest.MapFS{
		"a.bin":     {Data: []byte("a")},
		"b.gguf":    {Data: []byte("bb")},
		"notes.txt": {Data: []byte("n")},
	})
	r, _ := NewResolver(src, t.TempDir(), nil)
	if _, err := r.Resolve(context.Background(), "b.gguf"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	list, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "a.bin" || list[0].Cached || list[1].Name != "b.gguf" || !list[1].Cached || list[1].SizeBytes != 2 {
		t.Fatalf("list = %+v", list)
	}
}

// failingSource returns a reader that errors mid-copy.
type failingSource struct{}

func (failingSource) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(bytes.NewReader([]byte("part")), errReader{})), nil
}
func (failingSource) List(context.Context) ([]types.Asset, error) { return nil, nil }

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("network reset") }

func TestResolver_FailedCopyLeavesNoCacheEntry(t *testing.T) {
	cache := t.TempDir()
	r, _ := NewResolver(failingSource{}, cache, nil)
	if _, err := r.Resolve(context.Background(), "m.bin"); err == nil || types.IsAssetNotFound(err) {
		t.Fatalf("expected copy error, got %v", err)
	}
	if entries, _ := os.ReadDir(cache); len(entries) != 0 {
		t.Fatalf("partial copy left behind: %d entries", len(entries))
	}
}

func TestFSSource_DirectoryIsNotAnAsset(t *testing.T) {
	src := NewFSSource(fstest.MapFS{"dir/x.bin": {Data: []byte("x")}})
	if _, err := src.Open(context.Background(), "dir"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist for directory, got %v", err)
	}
}
