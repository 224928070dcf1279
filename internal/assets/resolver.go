package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"llmbridge/internal/common/fsutil"
	"llmbridge/pkg/types"
)

var resolutionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "llmbridge",
		Subsystem: "assets",
		Name:      "resolutions_total",
		Help:      "Asset resolutions by result (in_place, cache_hit, copied, not_found)",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(resolutionsTotal)
}

// DefaultCacheDir returns the per-user cache directory for materialized assets.
func DefaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("user cache dir: %w", err)
	}
	return filepath.Join(base, "llmbridge", "assets"), nil
}

// Resolver maps asset names to model file paths.
type Resolver struct {
	src      Source
	cacheDir string
	log      zerolog.Logger

	// mu serializes materialization so concurrent first uses copy once.
	mu sync.Mutex
}

// NewResolver returns a Resolver over src. cacheDir receives copies of assets
// that cannot be used in place; empty selects DefaultCacheDir.
func NewResolver(src Source, cacheDir string, logger *zerolog.Logger) (*Resolver, error) {
	if cacheDir == "" {
		d, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		cacheDir = d
	}
	dir, err := fsutil.ExpandHome(cacheDir)
	if err != nil {
		return nil, err
	}
	r := &Resolver{src: src, cacheDir: dir, log: zerolog.Nop()}
	if logger != nil {
		r.log = logger.With().Str("component", "assets").Logger()
	}
	return r, nil
}

// CacheDir returns the directory holding materialized copies.
func (r *Resolver) CacheDir() string { return r.cacheDir }

// Resolve returns a readable path for the named asset.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if !fsutil.ValidName(name) {
		resolutionsTotal.WithLabelValues("not_found").Inc()
		return "", notFound(name)
	}
	if loc, ok := r.src.(Locator); ok {
		p, found := loc.Locate(name)
		if !found {
			resolutionsTotal.WithLabelValues("not_found").Inc()
			return "", notFound(name)
		}
		resolutionsTotal.WithLabelValues("in_place").Inc()
		r.log.Debug().Str("asset", name).Str("path", p).Msg("asset used in place")
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	dst := filepath.Join(r.cacheDir, name)
	if fsutil.IsRegularFile(dst) {
		resolutionsTotal.WithLabelValues("cache_hit").Inc()
		r.log.Debug().Str("asset", name).Str("path", dst).Msg("asset cache hit")
		return dst, nil
	}
	rc, err := r.src.Open(ctx, name)
	if err != nil {
		if isNotFound(err) {
			resolutionsTotal.WithLabelValues("not_found").Inc()
			return "", notFound(name)
		}
		return "", fmt.Errorf("open asset %s: %w", name, err)
	}
	defer rc.Close()
	n, err := r.materialize(ctx, dst, rc)
	if err != nil {
		return "", fmt.Errorf("copy asset %s: %w", name, err)
	}
	resolutionsTotal.WithLabelValues("copied").Inc()
	r.log.Info().Str("asset", name).Str("path", dst).Int64("bytes", n).Msg("asset materialized")
	return dst, nil
}

// materialize writes src to dst through a temporary file so a partial copy
// is never mistaken for a cached asset.
func (r *Resolver) materialize(ctx context.Context, dst string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(r.cacheDir, filepath.Base(dst)+".partial-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, ctxReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}

// List returns the assets known to the source, marking the ones already
// present in the cache.
func (r *Resolver) List(ctx context.Context) ([]types.Asset, error) {
	list, err := r.src.List(ctx)
	if err != nil {
		return nil, err
	}
	_, inPlace := r.src.(Locator)
	for i := range list {
		list[i].Cached = inPlace || fsutil.IsRegularFile(filepath.Join(r.cacheDir, list[i].Name))
	}
	return list, nil
}

func notFound(name string) error {
	return types.NewError(types.KindAssetNotFound, 0, fmt.Sprintf("asset %q not found", name), nil)
}

func openFile(p string) (io.ReadCloser, error) { return os.Open(p) }

// ctxReader aborts a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
