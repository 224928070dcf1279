//go:build !llama

package engine

// This file provides a no-CGO stub for the llama loader. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.

import (
	"context"
	"fmt"
)

// LlamaBuilt indicates this binary was compiled with real llama support.
const LlamaBuilt = false

// LlamaLoader refuses to load models without the 'llama' build tag.
type LlamaLoader struct {
	ContextSize int
	Threads     int
	GPULayers   int
}

func NewLlamaLoader(ctxSize, threads, gpuLayers int) *LlamaLoader {
	return &LlamaLoader{ContextSize: ctxSize, Threads: threads, GPULayers: gpuLayers}
}

func (l *LlamaLoader) Name() string         { return "llama.cpp" }
func (l *LlamaLoader) SupportsVision() bool { return false }

func (l *LlamaLoader) Load(ctx context.Context, opts Options) (Engine, error) {
	return nil, fmt.Errorf("%w: llama support not built (missing 'llama' build tag)", ErrUnavailable)
}
