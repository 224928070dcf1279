// Package bridge is the asynchronous boundary between callers and the model
// registry. Every operation returns immediately with a Call that settles once
// the work finishes on a worker goroutine. Streaming events are delivered to
// subscribers as they occur.
package bridge

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"llmbridge/internal/events"
	"llmbridge/internal/manager"
	"llmbridge/pkg/types"
)

// Gateway is the asynchronous bridge surface shared by the in-process Bridge
// and remote transports.
type Gateway interface {
	CreateModel(cfg types.ModelConfig) *Call[types.Handle]
	CreateModelFromAsset(asset string, params types.GenerationParams) *Call[types.Handle]
	ReleaseModel(h types.Handle) *Call[bool]
	GenerateResponse(h types.Handle, id types.RequestID, prompt string) *Call[string]
	GenerateResponseWithImage(h types.Handle, id types.RequestID, prompt, image string) *Call[string]
	GetMemoryStats() *Call[types.MemoryStats]
	Subscribe(fn events.Listener) (unsubscribe func())
}

var _ Gateway = (*Bridge)(nil)

// Registry is the registry surface the bridge drives. *manager.Manager
// satisfies it.
type Registry interface {
	Create(ctx context.Context, cfg types.ModelConfig) (types.Handle, error)
	CreateFromAsset(ctx context.Context, asset string, params types.GenerationParams) (types.Handle, error)
	Release(h types.Handle) (bool, error)
	Dispatch(ctx context.Context, h types.Handle, id types.RequestID, prompt string, image *string) (string, error)
}

// MemorySource produces a memory snapshot.
type MemorySource func() types.MemoryStats

// Bridge runs registry operations asynchronously.
type Bridge struct {
	reg    Registry
	bus    *events.Bus
	memory MemorySource
	log    zerolog.Logger
	wg     sync.WaitGroup
}

// New returns a Bridge over reg. The registry must publish its events to bus.
func New(reg Registry, bus *events.Bus, memory MemorySource, logger *zerolog.Logger) *Bridge {
	b := &Bridge{reg: reg, bus: bus, memory: memory, log: zerolog.Nop()}
	if logger != nil {
		b.log = logger.With().Str("component", "bridge").Logger()
	}
	return b
}

func (b *Bridge) goRun(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// settle resolves or rejects c from a (value, error) pair.
func settle[T any](c *Call[T], v T, err error) {
	if err != nil {
		c.Reject(err)
		return
	}
	c.Resolve(v)
}

// CreateModel loads a model described by cfg.
func (b *Bridge) CreateModel(cfg types.ModelConfig) *Call[types.Handle] {
	c := NewCall[types.Handle]()
	b.goRun(func() {
		h, err := b.reg.Create(context.Background(), cfg)
		settle(c, h, err)
	})
	return c
}

// CreateModelFromAsset loads a bundled asset.
func (b *Bridge) CreateModelFromAsset(asset string, params types.GenerationParams) *Call[types.Handle] {
	c := NewCall[types.Handle]()
	b.goRun(func() {
		h, err := b.reg.CreateFromAsset(context.Background(), asset, params)
		settle(c, h, err)
	})
	return c
}

// ReleaseModel releases h.
func (b *Bridge) ReleaseModel(h types.Handle) *Call[bool] {
	c := NewCall[bool]()
	b.goRun(func() {
		ok, err := b.reg.Release(h)
		settle(c, ok, err)
	})
	return c
}

// GenerateResponse runs a text-only generation.
func (b *Bridge) GenerateResponse(h types.Handle, id types.RequestID, prompt string) *Call[string] {
	return b.generate(h, id, prompt, nil)
}

// GenerateResponseWithImage runs a generation with a base64 image.
func (b *Bridge) GenerateResponseWithImage(h types.Handle, id types.RequestID, prompt, image string) *Call[string] {
	return b.generate(h, id, prompt, &image)
}

// generate never settles the call of a superseded generation; it is
// abandoned instead.
func (b *Bridge) generate(h types.Handle, id types.RequestID, prompt string, image *string) *Call[string] {
	c := NewCall[string]()
	b.goRun(func() {
		out, err := b.reg.Dispatch(context.Background(), h, id, prompt, image)
		if manager.IsSuperseded(err) {
			b.log.Debug().Int64("handle", int64(h)).Int64("request_id", int64(id)).Msg("superseded call left pending")
			c.Abandon()
			return
		}
		settle(c, out, err)
	})
	return c
}

// GetMemoryStats returns a process/system memory snapshot.
func (b *Bridge) GetMemoryStats() *Call[types.MemoryStats] {
	if b.memory == nil {
		return Resolved(types.MemoryStats{})
	}
	c := NewCall[types.MemoryStats]()
	b.goRun(func() {
		c.Resolve(b.memory())
	})
	return c
}

// Subscribe registers fn for every subsequent event and returns a func that
// removes it.
func (b *Bridge) Subscribe(fn events.Listener) func() {
	return b.bus.Subscribe(fn)
}

// Wait blocks until every started operation has returned or ctx is done.
func (b *Bridge) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
