//go:build llama

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	llama "github.com/go-skynet/go-llama.cpp"
)

// LlamaBuilt indicates this binary was compiled with real llama support.
const LlamaBuilt = true

// LlamaLoader loads text-only engines through go-llama.cpp.
type LlamaLoader struct {
	ContextSize int
	Threads     int
	// GPULayers is the number of layers offloaded when the GPU backend is
	// requested. Zero means no GPU offload is configured.
	GPULayers int
}

// NewLlamaLoader returns a loader with the given context size and thread count.
func NewLlamaLoader(ctxSize, threads, gpuLayers int) *LlamaLoader {
	return &LlamaLoader{ContextSize: ctxSize, Threads: threads, GPULayers: gpuLayers}
}

func (l *LlamaLoader) Name() string         { return "llama.cpp" }
func (l *LlamaLoader) SupportsVision() bool { return false }

func (l *LlamaLoader) Load(ctx context.Context, opts Options) (Engine, error) {
	if strings.TrimSpace(opts.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mo := []llama.ModelOption{llama.SetContext(zn(l.ContextSize, 2048))}
	if opts.Backend == BackendGPU {
		if l.GPULayers <= 0 {
			return nil, ErrGPUUnavailable
		}
		mo = append(mo, llama.SetGPULayers(l.GPULayers))
	}
	m, err := llama.New(opts.ModelPath, mo...)
	if err != nil {
		if opts.Backend == BackendGPU {
			return nil, fmt.Errorf("%w: %v", ErrGPUUnavailable, err)
		}
		return nil, err
	}
	return &llamaEngine{model: m, threads: l.Threads, maxTokens: opts.MaxTokens}, nil
}

// llamaEngine owns the loaded model. go-llama.cpp runs one prediction at a
// time per model, so predictions are serialized.
type llamaEngine struct {
	predictMu sync.Mutex
	mu        sync.Mutex
	model     *llama.LLama
	threads   int
	maxTokens int
}

func (e *llamaEngine) NewSession(opts SessionOptions) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil, ErrClosed
	}
	return &llamaSession{engine: e, opts: opts}, nil
}

func (e *llamaEngine) Close() error {
	e.predictMu.Lock()
	defer e.predictMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}

type llamaSession struct {
	engine *llamaEngine
	opts   SessionOptions
	prompt strings.Builder
	closed atomic.Bool
}

func (s *llamaSession) AddQueryChunk(text string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.prompt.WriteString(text)
	return nil
}

func (s *llamaSession) GenerateStream(ctx context.Context, fn func(chunk string) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	e := s.engine
	e.predictMu.Lock()
	defer e.predictMu.Unlock()
	e.mu.Lock()
	m := e.model
	e.mu.Unlock()
	if m == nil {
		return ErrClosed
	}

	var cbErr error
	m.SetTokenCallback(func(tok string) bool {
		if s.closed.Load() {
			cbErr = ErrClosed
			return false
		}
		select {
		case <-ctx.Done():
			cbErr = ctx.Err()
			return false
		default:
		}
		if err := fn(tok); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	defer m.SetTokenCallback(nil)

	_, err := m.Predict(s.prompt.String(), predictOptions(s.opts, e.maxTokens, e.threads)...)
	if cbErr != nil {
		return cbErr
	}
	return err
}

func (s *llamaSession) Close() error {
	s.closed.Store(true)
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts session params into go-llama.cpp options.
func predictOptions(opts SessionOptions, maxTokens, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, maxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopK(zn(opts.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(opts.Temperature),
	}
	if opts.RandomSeed != 0 {
		po = append(po, llama.SetSeed(opts.RandomSeed))
	}
	return po
}
