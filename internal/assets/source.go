// Package assets resolves bundled model asset names to readable file paths.
// Assets living in a local bundle directory are used in place; assets from
// any other source are copied into a writable cache directory on first use
// and the copy is reused afterwards.
package assets

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"sort"

	"llmbridge/internal/common/fsutil"
	"llmbridge/internal/registry"
	"llmbridge/pkg/types"
)

// Source provides read access to bundled assets.
//
// Open returns an error wrapping fs.ErrNotExist when the asset is absent.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context) ([]types.Asset, error)
}

// Locator is implemented by sources whose assets are already regular files
// on the local filesystem and can be handed to an engine without copying.
type Locator interface {
	Locate(name string) (string, bool)
}

// DirSource serves assets from a local bundle directory.
type DirSource struct {
	root string
}

// NewDirSource returns a DirSource rooted at dir. A leading '~' is expanded.
func NewDirSource(dir string) (*DirSource, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	return &DirSource{root: abs}, nil
}

// Root returns the absolute bundle directory.
func (d *DirSource) Root() string { return d.root }

func (d *DirSource) Locate(name string) (string, bool) {
	p := filepath.Join(d.root, name)
	return p, fsutil.IsRegularFile(p)
}

func (d *DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p, ok := d.Locate(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return openFile(p)
}

func (d *DirSource) List(_ context.Context) ([]types.Asset, error) {
	return registry.LoadDir(d.root)
}

// FSSource serves assets from an fs.FS, such as an embedded bundle.
type FSSource struct {
	fsys fs.FS
}

// NewFSSource wraps fsys.
func NewFSSource(fsys fs.FS) *FSSource { return &FSSource{fsys: fsys} }

func (s *FSSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := s.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	if fi, err := f.Stat(); err == nil && fi.IsDir() {
		_ = f.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return f, nil
}

func (s *FSSource) List(_ context.Context) ([]types.Asset, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, err
	}
	var out []types.Asset
	for _, e := range entries {
		if e.IsDir() || !registry.IsModelFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, types.Asset{Name: e.Name(), SizeBytes: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// isNotFound reports whether err means the asset does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
