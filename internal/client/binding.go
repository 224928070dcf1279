// Package client is the caller-facing binding over a bridge Gateway. It owns
// one model handle at a time, swaps it when the configuration changes and
// correlates streamed partials with the request that produced them.
package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"llmbridge/internal/bridge"
	"llmbridge/internal/events"
	"llmbridge/pkg/types"
)

// attempt is one Configure's model creation.
type attempt struct {
	epoch  uint64
	cfg    types.ModelConfig
	done   chan struct{}
	handle types.Handle
	err    error
}

// Binding drives a Gateway on behalf of a single caller.
type Binding struct {
	gw     bridge.Gateway
	log    zerolog.Logger
	nextID atomic.Int64

	mu     sync.Mutex
	epoch  uint64
	cur    *attempt
	closed bool
}

// Option configures a Binding.
type Option func(*Binding)

// WithLogger sets the binding logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(b *Binding) {
		if l != nil {
			b.log = l.With().Str("component", "client").Logger()
		}
	}
}

// New returns a Binding with no model configured.
func New(gw bridge.Gateway, opts ...Option) *Binding {
	b := &Binding{gw: gw, log: zerolog.Nop()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Configure switches the binding to cfg. An identical configuration is a
// no-op unless its creation failed, in which case it is retried. Otherwise
// the previous handle is released and a new model is created, both without
// waiting; a creation that completes after a newer Configure is released
// immediately.
func (b *Binding) Configure(cfg types.ModelConfig) {
	b.mu.Lock()
	if b.closed || (b.cur != nil && b.cur.cfg == cfg && !b.failed(b.cur)) {
		b.mu.Unlock()
		return
	}
	// a previous attempt still loading sees the newer epoch and releases
	// itself; decide under the lock so exactly one side releases
	prev, releasePrev := b.finished(b.cur)
	b.epoch++
	a := &attempt{epoch: b.epoch, cfg: cfg, done: make(chan struct{})}
	b.cur = a
	b.mu.Unlock()

	if releasePrev {
		b.release(prev)
	}

	var call *bridge.Call[types.Handle]
	if asset, ok := cfg.Source.Asset(); ok {
		call = b.gw.CreateModelFromAsset(asset, cfg.Params)
	} else {
		call = b.gw.CreateModel(cfg)
	}
	go b.settle(a, call)
}

func (b *Binding) settle(a *attempt, call *bridge.Call[types.Handle]) {
	h, err := call.Await(context.Background())
	b.mu.Lock()
	a.handle, a.err = h, err
	stale := b.closed || a.epoch != b.epoch
	close(a.done)
	b.mu.Unlock()

	switch {
	case err != nil:
		b.log.Warn().Err(err).Str("source", a.cfg.Source.String()).Msg("model creation failed")
	case stale:
		b.log.Debug().Int64("handle", int64(h)).Msg("releasing stale model")
		b.release(h)
	default:
		b.log.Info().Int64("handle", int64(h)).Str("source", a.cfg.Source.String()).Msg("model ready")
	}
}

// release fires a release and logs its failure.
func (b *Binding) release(h types.Handle) {
	call := b.gw.ReleaseModel(h)
	go func() {
		if _, err := call.Await(context.Background()); err != nil {
			b.log.Warn().Err(err).Int64("handle", int64(h)).Msg("release failed")
		}
	}()
}

// Handle returns the ready handle, if any.
func (b *Binding) Handle() (types.Handle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, false
	}
	return b.finished(b.cur)
}

// Ready reports whether a model is loaded for the current configuration.
func (b *Binding) Ready() bool {
	_, ok := b.Handle()
	return ok
}

// WaitReady blocks until the current configuration's model is ready, its
// creation fails, or ctx is done. A Configure while waiting moves the wait to
// the newer configuration.
func (b *Binding) WaitReady(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return types.ErrNoModelLoaded
		}
		a := b.cur
		b.mu.Unlock()
		if a == nil {
			return types.ErrNoModelLoaded
		}
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		b.mu.Lock()
		current := b.cur == a
		b.mu.Unlock()
		if !current {
			continue
		}
		return a.err
	}
}

// Close releases the current handle and waits for the release to settle.
// Pending creations release themselves when they finish.
func (b *Binding) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	h, ok := b.finished(b.cur)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := b.gw.ReleaseModel(h).Await(context.Background())
	return err
}

// finished reports the handle of a that loaded successfully. b.mu must be
// held.
func (b *Binding) finished(a *attempt) (types.Handle, bool) {
	if a == nil {
		return 0, false
	}
	select {
	case <-a.done:
		return a.handle, a.err == nil
	default:
		return 0, false
	}
}

// failed reports whether a settled with an error. b.mu must be held.
func (b *Binding) failed(a *attempt) bool {
	select {
	case <-a.done:
		return a.err != nil
	default:
		return false
	}
}

type generateOptions struct {
	onPartial func(string)
	onError   func(error)
}

// GenerateOption configures a single generation.
type GenerateOption func(*generateOptions)

// OnPartial receives the accumulated response text as it grows.
func OnPartial(fn func(accumulated string)) GenerateOption {
	return func(o *generateOptions) { o.onPartial = fn }
}

// OnError receives error events for the request. They do not end the call;
// the returned error does.
func OnError(fn func(error)) GenerateOption {
	return func(o *generateOptions) { o.onError = fn }
}

// GenerateResponse runs a text generation on the current model.
func (b *Binding) GenerateResponse(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	return b.generate(ctx, prompt, nil, opts)
}

// GenerateResponseWithImage runs a generation with a base64 image.
func (b *Binding) GenerateResponseWithImage(ctx context.Context, prompt, image string, opts ...GenerateOption) (string, error) {
	return b.generate(ctx, prompt, &image, opts)
}

// generate returns when the call settles or ctx is done. A superseded call
// never settles, so its caller returns only through ctx.
func (b *Binding) generate(ctx context.Context, prompt string, image *string, opts []GenerateOption) (string, error) {
	h, ok := b.Handle()
	if !ok {
		return "", types.ErrNoModelLoaded
	}
	var o generateOptions
	for _, fn := range opts {
		fn(&o)
	}
	id := types.RequestID(b.nextID.Add(1) - 1)

	unsubscribe := b.gw.Subscribe(func(e events.Event) {
		if e.Handle != h || e.RequestID != id || ctx.Err() != nil {
			return
		}
		switch e.Kind {
		case events.KindPartial:
			if o.onPartial != nil {
				o.onPartial(e.Response)
			}
		case events.KindError:
			if o.onError != nil {
				o.onError(types.NewError(types.KindInference, h, e.Error, nil))
			}
		}
	})

	var call *bridge.Call[string]
	if image != nil {
		call = b.gw.GenerateResponseWithImage(h, id, prompt, *image)
	} else {
		call = b.gw.GenerateResponse(h, id, prompt)
	}

	select {
	case <-call.Done():
		unsubscribe()
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return call.Await(context.Background())
	case <-ctx.Done():
		unsubscribe()
		return "", ctx.Err()
	}
}
