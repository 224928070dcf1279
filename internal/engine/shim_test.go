package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackendString(t *testing.T) {
	if BackendCPU.String() != "cpu" || BackendGPU.String() != "gpu" {
		t.Fatalf("unexpected backend names")
	}
}

func TestShimLoader_MissingLibrary(t *testing.T) {
	l := NewShimLoader(filepath.Join(t.TempDir(), "nope.so"))
	if !l.SupportsVision() {
		t.Fatalf("shim loader must be vision capable")
	}
	_, err := l.Load(context.Background(), Options{ModelPath: "/models/x.bin"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	// second call reuses the cached open result
	_, err2 := l.Load(context.Background(), Options{ModelPath: "/models/x.bin"})
	if err2 == nil || err2.Error() != err.Error() {
		t.Fatalf("expected same error, got %v", err2)
	}
}

func TestShimLoader_EmptyModelPath(t *testing.T) {
	if _, err := NewShimLoader("").Load(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error for empty model path")
	}
}

func TestNewShimLoader_DefaultPath(t *testing.T) {
	if got := NewShimLoader(" ").Path; got != DefaultShimLibrary {
		t.Fatalf("path = %q", got)
	}
}

func TestStreamTable_DispatchRoutesAndStops(t *testing.T) {
	var got []string
	st := &stream{ctx: context.Background(), fn: func(s string) error {
		got = append(got, s)
		if len(got) == 2 {
			return errors.New("enough")
		}
		return nil
	}}
	id := streams.add(st)
	defer streams.remove(id)

	if rc := streams.dispatch(id, "a"); rc != 0 {
		t.Fatalf("first chunk should continue")
	}
	if rc := streams.dispatch(id, "b"); rc != 1 {
		t.Fatalf("callback error should stop")
	}
	if rc := streams.dispatch(id, "c"); rc != 1 || len(got) != 2 {
		t.Fatalf("stopped stream must not deliver, got %v", got)
	}
	if st.err == nil || st.err.Error() != "enough" {
		t.Fatalf("stream err = %v", st.err)
	}
	if rc := streams.dispatch(id+1000, "x"); rc != 1 {
		t.Fatalf("unknown stream should stop")
	}
}

func TestStream_StopsWhenClosedOrCanceled(t *testing.T) {
	var closed atomic.Bool
	st := &stream{ctx: context.Background(), fn: func(string) error { return nil }, closed: &closed}
	if !st.deliver("x") {
		t.Fatalf("open stream should continue")
	}
	closed.Store(true)
	if st.deliver("y") || !errors.Is(st.err, ErrClosed) {
		t.Fatalf("closed stream should stop with ErrClosed, err=%v", st.err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st2 := &stream{ctx: ctx, fn: func(string) error { return nil }}
	if st2.deliver("x") || !errors.Is(st2.err, context.Canceled) {
		t.Fatalf("canceled stream should stop, err=%v", st2.err)
	}
}

func TestGoString(t *testing.T) {
	b := []byte("hello\x00world")
	if got := goString(&b[0]); got != "hello" {
		t.Fatalf("goString = %q", got)
	}
	if goString(nil) != "" {
		t.Fatalf("nil should be empty")
	}
}

// nativeRecorder is a fake shim library that records the order of native calls.
type nativeRecorder struct {
	mu               sync.Mutex
	generating       bool
	closedSessions   int
	destroyed        bool
	destroyMidStream bool
	closedAtDestroy  int
	started          chan struct{}
	startOnce        sync.Once
}

func (r *nativeRecorder) lib() *shimLib {
	return &shimLib{
		createSession: func(engine uintptr, topK int32, temperature float32, seed int32, vision bool) uintptr {
			return 7
		},
		generate: func(session, streamID, callback uintptr) int32 {
			r.mu.Lock()
			r.generating = true
			r.mu.Unlock()
			r.startOnce.Do(func() { close(r.started) })
			for streams.dispatch(streamID, "x") == 0 {
				time.Sleep(time.Millisecond)
			}
			// the native side keeps touching the session briefly after a stop request
			time.Sleep(20 * time.Millisecond)
			r.mu.Lock()
			r.generating = false
			r.mu.Unlock()
			return 0
		},
		closeSession: func(session uintptr) {
			r.mu.Lock()
			r.closedSessions++
			r.mu.Unlock()
		},
		destroyEngine: func(engine uintptr) {
			r.mu.Lock()
			r.destroyed = true
			r.destroyMidStream = r.generating
			r.closedAtDestroy = r.closedSessions
			r.mu.Unlock()
		},
		lastError: func() string { return "" },
	}
}

func TestShimEngine_CloseWaitsForRunningGeneration(t *testing.T) {
	r := &nativeRecorder{started: make(chan struct{})}
	e := &shimEngine{lib: r.lib(), h: 1}
	sess, err := e.NewSession(SessionOptions{Vision: true})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- sess.GenerateStream(context.Background(), func(string) error { return nil }) }()
	<-r.started

	// release path: stop the session, then tear down the engine
	_ = sess.Close()
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.destroyed {
		t.Fatalf("engine was not destroyed")
	}
	if r.destroyMidStream {
		t.Fatalf("engine destroyed while native generate was running")
	}
	if r.closedAtDestroy != 1 {
		t.Fatalf("native session must be freed before the engine, closed=%d", r.closedAtDestroy)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("generate returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("generate did not return")
	}
}

func TestShimEngine_CloseFreesIdleSessions(t *testing.T) {
	r := &nativeRecorder{started: make(chan struct{})}
	e := &shimEngine{lib: r.lib(), h: 1}
	if _, err := e.NewSession(SessionOptions{}); err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	r.mu.Lock()
	closed := r.closedAtDestroy
	r.mu.Unlock()
	if closed != 1 {
		t.Fatalf("open session should be freed before destroy, closed=%d", closed)
	}
	if _, err := e.NewSession(SessionOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("session on closed engine: %v", err)
	}
}
