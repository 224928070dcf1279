package manager

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"llmbridge/internal/engine"
	"llmbridge/internal/events"
	"llmbridge/pkg/types"
)

// script drives one fake session.
type script struct {
	chunks []string
	genErr error
	// block keeps GenerateStream running after the chunks until the session
	// is closed or ctx is done.
	block bool
}

// fakeLoader is an in-memory engine.Loader used for tests.
type fakeLoader struct {
	mu       sync.Mutex
	vision   bool
	noGPU    bool
	loadErr  error
	loads    []engine.Options
	scripts  []script
	sessions []*fakeSession
	engines  []*fakeEngine
}

func (l *fakeLoader) Name() string         { return "fake" }
func (l *fakeLoader) SupportsVision() bool { return l.vision }

func (l *fakeLoader) Load(ctx context.Context, opts engine.Options) (engine.Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads = append(l.loads, opts)
	if opts.Backend == engine.BackendGPU && l.noGPU {
		return nil, engine.ErrGPUUnavailable
	}
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	e := &fakeEngine{l: l}
	l.engines = append(l.engines, e)
	return e, nil
}

func (l *fakeLoader) nextScript() script {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.scripts) == 0 {
		return script{chunks: []string{"Hi", " there", "!"}}
	}
	s := l.scripts[0]
	l.scripts = l.scripts[1:]
	return s
}

func (l *fakeLoader) sessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

func (l *fakeLoader) session(i int) *fakeSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[i]
}

type fakeEngine struct {
	l      *fakeLoader
	closed bool
}

func (e *fakeEngine) NewSession(opts engine.SessionOptions) (engine.Session, error) {
	s := &fakeSession{
		script:  e.l.nextScript(),
		opts:    opts,
		started: make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	e.l.mu.Lock()
	e.l.sessions = append(e.l.sessions, s)
	e.l.mu.Unlock()
	if opts.Vision {
		return &fakeVisionSession{fakeSession: s}, nil
	}
	return s, nil
}

func (e *fakeEngine) Close() error {
	e.l.mu.Lock()
	e.closed = true
	e.l.mu.Unlock()
	return nil
}

type fakeSession struct {
	script    script
	opts      engine.SessionOptions
	prompt    strings.Builder
	image     []byte
	started   chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (s *fakeSession) AddQueryChunk(text string) error {
	s.prompt.WriteString(text)
	return nil
}

func (s *fakeSession) GenerateStream(ctx context.Context, fn func(string) error) error {
	for _, c := range s.script.chunks {
		select {
		case <-s.closeCh:
			return engine.ErrClosed
		default:
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	close(s.started)
	if s.script.block {
		select {
		case <-s.closeCh:
			return engine.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.script.genErr
}

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return nil
}

func (s *fakeSession) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

type fakeVisionSession struct{ *fakeSession }

func (s *fakeVisionSession) AddImage(b []byte) error {
	s.image = append([]byte(nil), b...)
	return nil
}

// fakeAssets resolves names from a fixed map.
type fakeAssets map[string]string

func (a fakeAssets) Resolve(ctx context.Context, name string) (string, error) {
	if p, ok := a[name]; ok {
		return p, nil
	}
	return "", types.NewError(types.KindAssetNotFound, 0, "asset "+name+" not found", nil)
}

func newTestManager(l *fakeLoader) (*Manager, *events.MemoryPublisher) {
	pub := events.NewMemoryPublisher()
	return NewWithConfig(ManagerConfig{TextLoader: l, VisionLoader: l, Publisher: pub}), pub
}

func textConfig() types.ModelConfig {
	return types.NewPathConfig("/models/gemma.bin", types.DefaultGenerationParams())
}

func visionConfig() types.ModelConfig {
	p := types.DefaultGenerationParams()
	p.EnableVisionModality = true
	return types.NewPathConfig("/models/gemma-vision.bin", p)
}

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return "image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// waitStarted blocks until session i has streamed its scripted chunks.
func waitStarted(t *testing.T, l *fakeLoader, i int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for l.sessionCount() <= i {
		if time.Now().After(deadline) {
			t.Fatalf("session %d never opened", i)
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-l.session(i).started:
	case <-time.After(2 * time.Second):
		t.Fatalf("session %d never started", i)
	}
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
