package manager

import (
	"context"
	"time"

	"llmbridge/internal/engine"
	"llmbridge/internal/events"
	"llmbridge/pkg/types"
)

// Generate runs one generation and returns the accumulated text. Any
// generation already running on this instance is superseded: its engine
// session is closed and its Generate call returns ErrSuperseded without
// publishing anything further. image, when non-nil, is a base64 payload
// optionally prefixed with "<mime>;base64,".
func (i *Instance) Generate(ctx context.Context, id types.RequestID, prompt string, image *string) (string, error) {
	h := i.Handle
	if image != nil && !i.Config.Params.EnableVisionModality {
		return "", types.ErrVisionNotEnabled(h)
	}
	var tile []byte
	if image != nil {
		var err error
		if tile, err = i.normalizer.NormalizeBase64(h, *image); err != nil {
			return "", err
		}
	}

	i.mu.Lock()
	if i.state == StateClosed {
		i.mu.Unlock()
		return "", types.ErrInvalidHandle(h)
	}
	if prev := i.active; prev != nil {
		i.active = nil
		prev.stop(false)
		supersededTotal.Inc()
		i.log.Debug().Int64("request_id", int64(prev.requestID)).Int64("superseded_by", int64(id)).Msg("generation superseded")
	}
	sess, err := i.eng.NewSession(engine.SessionOptions{
		TopK:        i.Config.Params.TopK,
		Temperature: i.Config.Params.Temperature,
		RandomSeed:  i.Config.Params.RandomSeed,
		Vision:      i.Config.Params.EnableVisionModality,
	})
	if err != nil {
		i.mu.Unlock()
		return "", i.fail(id, err)
	}
	gen := &generation{requestID: id, session: sess}
	i.active = gen
	i.state = StateGenerating
	i.generations++
	i.lastUsed = time.Now()
	i.mu.Unlock()

	err = i.run(ctx, gen, prompt, tile)

	i.mu.Lock()
	if i.active == gen {
		i.active = nil
		if i.state != StateClosed {
			i.state = StateReady
		}
	}
	i.mu.Unlock()
	_ = sess.Close()

	gen.mu.Lock()
	superseded, released := gen.superseded, gen.released
	text := gen.acc.String()
	gen.mu.Unlock()
	switch {
	case released:
		generationsTotal.WithLabelValues("released").Inc()
		return "", errReleased(h)
	case superseded:
		generationsTotal.WithLabelValues("superseded").Inc()
		return "", ErrSuperseded
	case err != nil:
		return "", i.fail(id, err)
	}
	generationsTotal.WithLabelValues("ok").Inc()
	return text, nil
}

func (i *Instance) run(ctx context.Context, gen *generation, prompt string, tile []byte) error {
	sess := gen.session
	if err := sess.AddQueryChunk(prompt); err != nil {
		return err
	}
	if tile != nil {
		vs, ok := sess.(engine.VisionSession)
		if !ok {
			return types.ErrVisionNotEnabled(i.Handle)
		}
		if err := vs.AddImage(tile); err != nil {
			return err
		}
	}
	return sess.GenerateStream(ctx, func(chunk string) error {
		gen.mu.Lock()
		if gen.superseded || gen.released {
			gen.mu.Unlock()
			return ErrSuperseded
		}
		gen.acc.WriteString(chunk)
		acc := gen.acc.String()
		gen.mu.Unlock()
		// Listeners run synchronously and may start a generation on this
		// instance, which takes gen.mu through stop.
		i.publisher.Publish(events.Partial(i.Handle, gen.requestID, acc))
		partialEvents.Inc()
		return nil
	})
}

// fail publishes an error event and returns the matching InferenceError.
func (i *Instance) fail(id types.RequestID, err error) error {
	generationsTotal.WithLabelValues("error").Inc()
	if types.KindOf(err) == "" {
		err = types.NewError(types.KindInference, i.Handle, "inference failed", err)
	}
	i.log.Warn().Err(err).Int64("request_id", int64(id)).Msg("generation failed")
	i.publisher.Publish(events.Failure(i.Handle, id, err.Error()))
	return err
}

// Close releases the active generation and the engine. It is idempotent.
func (i *Instance) Close() error {
	i.mu.Lock()
	if i.state == StateClosed {
		i.mu.Unlock()
		return nil
	}
	i.state = StateClosed
	gen := i.active
	i.active = nil
	eng := i.eng
	i.eng = nil
	i.mu.Unlock()

	if gen != nil {
		gen.stop(true)
	}
	if eng != nil {
		return eng.Close()
	}
	return nil
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}
