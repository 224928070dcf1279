// Package engine is the boundary to the native inference engines. Engines are
// opaque: the bridge only initializes them, feeds text and images into a
// session, streams the generated fragments back and closes them.
package engine

import (
	"context"
	"errors"
)

// Backend selects the execution device for an engine.
type Backend int

const (
	BackendCPU Backend = iota
	BackendGPU
)

func (b Backend) String() string {
	switch b {
	case BackendGPU:
		return "gpu"
	default:
		return "cpu"
	}
}

var (
	// ErrGPUUnavailable is returned by Loader.Load when the GPU backend was
	// requested but cannot be used. Callers may retry on the CPU backend.
	ErrGPUUnavailable = errors.New("engine: gpu backend unavailable")
	// ErrUnavailable reports that the engine runtime is not present in this
	// build or on this host.
	ErrUnavailable = errors.New("engine: runtime unavailable")
	// ErrClosed is returned by operations on a closed engine or session.
	ErrClosed = errors.New("engine: closed")
)

// Options configure engine construction.
type Options struct {
	ModelPath string
	Backend   Backend
	MaxTokens int
	// Vision asks for an engine that accepts images. Only loaders reporting
	// SupportsVision honor it.
	Vision bool
}

// SessionOptions configure one generation session.
type SessionOptions struct {
	TopK        int
	Temperature float32
	RandomSeed  int
	Vision      bool
}

// Loader builds engines from model files.
type Loader interface {
	// Name identifies the engine family in logs and status output.
	Name() string
	// SupportsVision reports whether engines from this loader accept images.
	SupportsVision() bool
	Load(ctx context.Context, opts Options) (Engine, error)
}

// Engine is a loaded model.
type Engine interface {
	NewSession(opts SessionOptions) (Session, error)
	Close() error
}

// Session accumulates query input and runs one streaming generation.
type Session interface {
	AddQueryChunk(text string) error
	// GenerateStream blocks until generation completes, fn returns an error,
	// the session is closed, or ctx is done. fn receives each new fragment.
	GenerateStream(ctx context.Context, fn func(chunk string) error) error
	Close() error
}

// VisionSession is a Session that also accepts an encoded image.
type VisionSession interface {
	Session
	AddImage(encoded []byte) error
}
