package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"llmbridge/internal/engine"
	"llmbridge/internal/events"
	"llmbridge/internal/imaging"
	"llmbridge/pkg/types"
)

// Manager is the handle-keyed model registry.
type Manager struct {
	mu        sync.RWMutex
	instances map[types.Handle]*Instance
	closed    bool

	nextHandle    atomic.Int64
	createdTotal  atomic.Uint64
	releasedTotal atomic.Uint64

	textLoader   engine.Loader
	visionLoader engine.Loader
	assets       AssetResolver
	publisher    events.Publisher
	normalizer   *imaging.Normalizer
	log          zerolog.Logger
	startTime    time.Time
}

// New returns a Manager using loader for every model.
func New(loader engine.Loader, assets AssetResolver, pub events.Publisher) *Manager {
	return NewWithConfig(ManagerConfig{TextLoader: loader, VisionLoader: loader, Assets: assets, Publisher: pub})
}

// Ready reports whether the registry accepts new models.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed && (m.textLoader != nil || m.visionLoader != nil)
}

// Len returns the number of loaded models.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// Create loads a model and returns its handle. The handle number is consumed
// even when loading fails.
func (m *Manager) Create(ctx context.Context, cfg types.ModelConfig) (types.Handle, error) {
	h := types.Handle(m.nextHandle.Add(1))
	if err := cfg.Validate(); err != nil {
		return 0, types.NewError(types.KindModelLoad, h, "invalid model config", err)
	}
	path, err := m.resolve(ctx, h, cfg.Source)
	if err != nil {
		return 0, err
	}
	inst, err := m.construct(ctx, h, cfg, path)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		inst.Close()
		return 0, types.NewError(types.KindModelLoad, h, "registry closed", nil)
	}
	m.instances[h] = inst
	n := len(m.instances)
	m.mu.Unlock()

	m.createdTotal.Add(1)
	loadedModels.Set(float64(n))
	m.log.Info().Int64("handle", int64(h)).Str("source", cfg.Source.String()).Str("backend", inst.Backend.String()).Msg("model created")
	return h, nil
}

// CreateFromAsset loads a bundled asset by name.
func (m *Manager) CreateFromAsset(ctx context.Context, asset string, params types.GenerationParams) (types.Handle, error) {
	return m.Create(ctx, types.NewAssetConfig(asset, params))
}

func (m *Manager) resolve(ctx context.Context, h types.Handle, src types.ModelSource) (string, error) {
	if p, ok := src.Path(); ok {
		return p, nil
	}
	name, _ := src.Asset()
	if m.assets == nil {
		return "", types.NewError(types.KindAssetNotFound, h, fmt.Sprintf("asset %q not found: no asset source configured", name), nil)
	}
	p, err := m.assets.Resolve(ctx, name)
	if err != nil {
		if types.KindOf(err) != "" {
			return "", err
		}
		return "", types.NewError(types.KindModelLoad, h, fmt.Sprintf("materialize asset %q", name), err)
	}
	return p, nil
}

// construct loads the engine for a new instance, falling back from GPU to CPU
// when the GPU backend is unavailable.
func (m *Manager) construct(ctx context.Context, h types.Handle, cfg types.ModelConfig, path string) (*Instance, error) {
	p := cfg.Params
	opts := engine.Options{ModelPath: path, MaxTokens: p.MaxTokens, Vision: p.EnableVisionModality}
	loader := m.textLoader
	if p.EnableVisionModality {
		loader = m.visionLoader
		if loader == nil || !loader.SupportsVision() {
			return nil, types.ErrVisionNotEnabled(h)
		}
		opts.Backend = engine.BackendCPU
	} else if p.PreferGPU {
		opts.Backend = engine.BackendGPU
	}
	if loader == nil {
		return nil, types.NewError(types.KindModelLoad, h, "no engine configured", nil)
	}

	eng, err := loader.Load(ctx, opts)
	if err != nil && opts.Backend == engine.BackendGPU && errors.Is(err, engine.ErrGPUUnavailable) {
		m.log.Warn().Err(err).Int64("handle", int64(h)).Msg("gpu backend unavailable, falling back to cpu")
		m.publisher.Publish(events.Logging(h, "GPU backend unavailable, falling back to CPU"))
		gpuFallbacks.Inc()
		opts.Backend = engine.BackendCPU
		eng, err = loader.Load(ctx, opts)
	}
	if err != nil {
		return nil, types.NewError(types.KindModelLoad, h, "failed to load model "+path, err)
	}
	m.publisher.Publish(events.Logging(h, fmt.Sprintf("model loaded from %s (%s backend)", path, opts.Backend)))

	return &Instance{
		Handle:     h,
		Config:     cfg,
		ModelPath:  path,
		Backend:    opts.Backend,
		Engine:     loader.Name(),
		state:      StateReady,
		eng:        eng,
		lastUsed:   time.Now(),
		publisher:  m.publisher,
		normalizer: m.normalizer,
		log:        m.log.With().Int64("handle", int64(h)).Logger(),
	}, nil
}

func (m *Manager) get(h types.Handle) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst := m.instances[h]
	if inst == nil {
		return nil, types.ErrInvalidHandle(h)
	}
	return inst, nil
}

// Dispatch forwards a generation request to the instance behind h.
func (m *Manager) Dispatch(ctx context.Context, h types.Handle, id types.RequestID, prompt string, image *string) (string, error) {
	inst, err := m.get(h)
	if err != nil {
		return "", err
	}
	return inst.Generate(ctx, id, prompt, image)
}
