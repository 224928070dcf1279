package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

// The native shim is a small C-ABI library wrapping a vision-capable runtime.
// It exports:
//
//	void*       LlmBridge_CreateEngine(const char* path, int32 backend, int32 max_tokens, bool vision, int32* status)
//	void        LlmBridge_DestroyEngine(void* engine)
//	void*       LlmBridge_CreateSession(void* engine, int32 top_k, float temperature, int32 seed, bool vision)
//	int32       LlmBridge_AddQueryChunk(void* session, const char* text)
//	int32       LlmBridge_AddImage(void* session, const uint8* data, int64 size)
//	int32       LlmBridge_Generate(void* session, uintptr stream_id, uintptr callback)
//	void        LlmBridge_CloseSession(void* session)
//	const char* LlmBridge_LastError(void)
//
// callback is invoked as uintptr cb(uintptr stream_id, const char* chunk) for
// every fragment, on the thread running LlmBridge_Generate. A non-zero return
// asks the shim to stop generating.
const (
	shimStatusOK             = 0
	shimStatusGPUUnavailable = 2
)

// DefaultShimLibrary is the file name looked up when no path is configured.
const DefaultShimLibrary = "libllmbridge_shim.so"

type shimLib struct {
	createEngine  func(path string, backend int32, maxTokens int32, vision bool, status *int32) uintptr
	destroyEngine func(engine uintptr)
	createSession func(engine uintptr, topK int32, temperature float32, seed int32, vision bool) uintptr
	addQueryChunk func(session uintptr, text string) int32
	addImage      func(session uintptr, data unsafe.Pointer, size int64) int32
	generate      func(session uintptr, streamID uintptr, callback uintptr) int32
	closeSession  func(session uintptr)
	lastError     func() string
}

// openShim loads the shim library and resolves every exported symbol.
func openShim(path string) (*shimLib, error) {
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return nil, fmt.Errorf("%w: shim library not found: %s", ErrUnavailable, path)
	}
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load %s: %v", ErrUnavailable, path, err)
	}
	lib := &shimLib{}
	syms := []struct {
		name string
		fptr any
	}{
		{"LlmBridge_CreateEngine", &lib.createEngine},
		{"LlmBridge_DestroyEngine", &lib.destroyEngine},
		{"LlmBridge_CreateSession", &lib.createSession},
		{"LlmBridge_AddQueryChunk", &lib.addQueryChunk},
		{"LlmBridge_AddImage", &lib.addImage},
		{"LlmBridge_Generate", &lib.generate},
		{"LlmBridge_CloseSession", &lib.closeSession},
		{"LlmBridge_LastError", &lib.lastError},
	}
	for _, s := range syms {
		if _, err := purego.Dlsym(h, s.name); err != nil {
			return nil, fmt.Errorf("%w: failed to load %s: %v", ErrUnavailable, s.name, err)
		}
		purego.RegisterLibFunc(s.fptr, h, s.name)
	}
	return lib, nil
}

func (l *shimLib) err(op string) error {
	msg := strings.TrimSpace(l.lastError())
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Errorf("%s: %s", op, msg)
}

// ShimLoader loads vision-capable engines from the native shim library. The
// library is opened on first use.
type ShimLoader struct {
	Path string

	once sync.Once
	lib  *shimLib
	err  error
}

// NewShimLoader returns a loader for the shim at path, or DefaultShimLibrary
// when path is empty.
func NewShimLoader(path string) *ShimLoader {
	if strings.TrimSpace(path) == "" {
		path = DefaultShimLibrary
	}
	return &ShimLoader{Path: path}
}

func (l *ShimLoader) Name() string         { return "shim" }
func (l *ShimLoader) SupportsVision() bool { return true }

func (l *ShimLoader) open() (*shimLib, error) {
	l.once.Do(func() { l.lib, l.err = openShim(l.Path) })
	return l.lib, l.err
}

func (l *ShimLoader) Load(ctx context.Context, opts Options) (Engine, error) {
	if strings.TrimSpace(opts.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	lib, err := l.open()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var status int32
	h := lib.createEngine(opts.ModelPath, int32(opts.Backend), int32(opts.MaxTokens), opts.Vision, &status)
	if h == 0 || status != shimStatusOK {
		if status == shimStatusGPUUnavailable {
			return nil, fmt.Errorf("%w: %v", ErrGPUUnavailable, lib.err("create engine"))
		}
		return nil, lib.err("create engine")
	}
	return &shimEngine{lib: lib, h: h}, nil
}

type shimEngine struct {
	mu       sync.Mutex
	lib      *shimLib
	h        uintptr
	sessions map[*shimSession]struct{}
	// live counts sessions whose native handle has not been freed yet.
	live sync.WaitGroup
}

func (e *shimEngine) NewSession(opts SessionOptions) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.h == 0 {
		return nil, ErrClosed
	}
	h := e.lib.createSession(e.h, int32(opts.TopK), opts.Temperature, int32(opts.RandomSeed), opts.Vision)
	if h == 0 {
		return nil, e.lib.err("create session")
	}
	s := &shimSession{lib: e.lib, h: h, eng: e}
	if e.sessions == nil {
		e.sessions = make(map[*shimSession]struct{})
	}
	e.sessions[s] = struct{}{}
	e.live.Add(1)
	return s, nil
}

// forget is called once a session's native handle has been freed.
func (e *shimEngine) forget(s *shimSession) {
	e.mu.Lock()
	delete(e.sessions, s)
	e.mu.Unlock()
	e.live.Done()
}

// Close stops every open session, waits until their native generations have
// returned and their handles are freed, and only then destroys the engine.
func (e *shimEngine) Close() error {
	e.mu.Lock()
	h := e.h
	e.h = 0
	open := make([]*shimSession, 0, len(e.sessions))
	for s := range e.sessions {
		open = append(open, s)
	}
	e.mu.Unlock()
	if h == 0 {
		return nil
	}
	for _, s := range open {
		_ = s.Close()
	}
	e.live.Wait()
	e.lib.destroyEngine(h)
	return nil
}

type shimSession struct {
	mu      sync.Mutex
	lib     *shimLib
	eng     *shimEngine
	h       uintptr
	running sync.WaitGroup
	closed  atomic.Bool
}

func (s *shimSession) handle() (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() || s.h == 0 {
		return 0, ErrClosed
	}
	return s.h, nil
}

func (s *shimSession) AddQueryChunk(text string) error {
	h, err := s.handle()
	if err != nil {
		return err
	}
	if rc := s.lib.addQueryChunk(h, text); rc != 0 {
		return s.lib.err("add query chunk")
	}
	return nil
}

func (s *shimSession) AddImage(encoded []byte) error {
	if len(encoded) == 0 {
		return errors.New("empty image")
	}
	h, err := s.handle()
	if err != nil {
		return err
	}
	rc := s.lib.addImage(h, unsafe.Pointer(&encoded[0]), int64(len(encoded)))
	runtime.KeepAlive(encoded)
	if rc != 0 {
		return s.lib.err("add image")
	}
	return nil
}

func (s *shimSession) GenerateStream(ctx context.Context, fn func(chunk string) error) error {
	s.mu.Lock()
	if s.closed.Load() || s.h == 0 {
		s.mu.Unlock()
		return ErrClosed
	}
	h := s.h
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	st := &stream{ctx: ctx, fn: fn, closed: &s.closed}
	id := streams.add(st)
	defer streams.remove(id)

	rc := s.lib.generate(h, id, chunkCallback())
	if st.err != nil {
		return st.err
	}
	if rc != 0 {
		return s.lib.err("generate")
	}
	return nil
}

// Close stops a running generation at the next fragment and frees the native
// session once it has returned.
func (s *shimSession) Close() error {
	s.mu.Lock()
	if s.closed.Swap(true) {
		s.mu.Unlock()
		return nil
	}
	h := s.h
	s.h = 0
	s.mu.Unlock()
	go func() {
		s.running.Wait()
		if h != 0 {
			s.lib.closeSession(h)
		}
		if s.eng != nil {
			s.eng.forget(s)
		}
	}()
	return nil
}

// stream routes callback invocations for one running generation.
type stream struct {
	ctx    context.Context
	fn     func(string) error
	closed *atomic.Bool
	err    error
}

// deliver forwards chunk and reports whether generation should continue.
func (st *stream) deliver(chunk string) bool {
	if st.err != nil {
		return false
	}
	if st.closed != nil && st.closed.Load() {
		st.err = ErrClosed
		return false
	}
	if err := st.ctx.Err(); err != nil {
		st.err = err
		return false
	}
	if err := st.fn(chunk); err != nil {
		st.err = err
		return false
	}
	return true
}

type streamTable struct {
	mu   sync.Mutex
	next uintptr
	m    map[uintptr]*stream
}

var streams = &streamTable{m: map[uintptr]*stream{}}

func (t *streamTable) add(st *stream) uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.m[t.next] = st
	return t.next
}

func (t *streamTable) get(id uintptr) *stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m[id]
}

func (t *streamTable) remove(id uintptr) {
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
}

// dispatch is the Go side of the native chunk callback.
func (t *streamTable) dispatch(id uintptr, chunk string) uintptr {
	st := t.get(id)
	if st == nil || !st.deliver(chunk) {
		return 1
	}
	return 0
}

// purego callbacks are a limited resource, so a single one serves every stream.
var (
	callbackOnce sync.Once
	callbackPtr  uintptr
)

func chunkCallback() uintptr {
	callbackOnce.Do(func() {
		callbackPtr = purego.NewCallback(func(id uintptr, chunk *byte) uintptr {
			return streams.dispatch(id, goString(chunk))
		})
	})
	return callbackPtr
}

// goString copies a NUL-terminated C string.
func goString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}
