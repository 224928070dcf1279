package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"llmbridge/internal/events"
	"llmbridge/pkg/types"
)

// streamLine is one NDJSON line of a streamed generation.
type streamLine struct {
	Type      string          `json:"type"`
	Handle    types.Handle    `json:"handle"`
	RequestID types.RequestID `json:"requestId"`
	Response  string          `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
	Kind      types.ErrorKind `json:"kind,omitempty"`
	Done      bool            `json:"done,omitempty"`
}

const lineDone = "done"

// streamGenerate subscribes to partials for (h, req.RequestID), starts the
// generation and writes each accumulated partial as it arrives. Errors after
// the header is sent are reported inline.
func (s *server) streamGenerate(ctx context.Context, w http.ResponseWriter, r *http.Request, h types.Handle, req types.GenerateRequest, lvl LogLevel) {
	// partials carry the full accumulated text, so dropping a stale one when
	// the writer lags loses nothing
	partials := make(chan string, 1)
	unsubscribe := s.svc.Subscribe(func(e events.Event) {
		if e.Kind != events.KindPartial || e.Handle != h || e.RequestID != req.RequestID {
			return
		}
		for {
			select {
			case partials <- e.Response:
				return
			default:
			}
			select {
			case <-partials:
			default:
			}
		}
	})
	defer unsubscribe()

	call := s.generate(h, req)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	var out io.Writer = w
	if lvl >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{log: reqLogger(r)})
	}
	enc := json.NewEncoder(out)
	emit := func(l streamLine) bool {
		l.Handle, l.RequestID = h, req.RequestID
		if err := enc.Encode(l); err != nil {
			return false
		}
		flush()
		return true
	}

	result := make(chan error, 1)
	var final string
	go func() {
		var err error
		final, err = await(ctx, call)
		result <- err
	}()

	for {
		select {
		case p := <-partials:
			if !emit(streamLine{Type: string(events.KindPartial), Response: p}) {
				return
			}
		case err := <-result:
			// flush a partial that raced with completion
			select {
			case p := <-partials:
				emit(streamLine{Type: string(events.KindPartial), Response: p})
			default:
			}
			if err != nil {
				if r.Context().Err() != nil {
					return
				}
				if errors.Is(err, context.DeadlineExceeded) {
					err = types.NewError(types.KindInference, h, "timed out waiting for the model", err)
				}
				emit(streamLine{Type: string(events.KindError), Error: err.Error(), Kind: types.KindOf(err), Done: true})
				return
			}
			emit(streamLine{Type: lineDone, Response: final, Done: true})
			return
		}
	}
}
