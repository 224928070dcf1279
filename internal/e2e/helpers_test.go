package e2e

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"llmbridge/internal/assets"
	"llmbridge/internal/bridge"
	"llmbridge/internal/client"
	"llmbridge/internal/engine"
	"llmbridge/internal/events"
	"llmbridge/internal/httpapi"
	"llmbridge/internal/manager"
	"llmbridge/internal/memstats"
)

// scriptedLoader builds engines whose sessions stream a fixed reply. A
// prompt containing "block" keeps streaming open until the session closes;
// one containing "fail" errors after the reply.
type scriptedLoader struct {
	mu       sync.Mutex
	sessions int
}

func (l *scriptedLoader) Name() string         { return "scripted" }
func (l *scriptedLoader) SupportsVision() bool { return true }

func (l *scriptedLoader) Load(ctx context.Context, opts engine.Options) (engine.Engine, error) {
	return &scriptedEngine{l: l}, nil
}

func (l *scriptedLoader) started() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions
}

type scriptedEngine struct{ l *scriptedLoader }

func (e *scriptedEngine) NewSession(opts engine.SessionOptions) (engine.Session, error) {
	return &scriptedSession{l: e.l, closed: make(chan struct{})}, nil
}

func (e *scriptedEngine) Close() error { return nil }

type scriptedSession struct {
	l      *scriptedLoader
	prompt strings.Builder
	once   sync.Once
	closed chan struct{}
}

func (s *scriptedSession) AddQueryChunk(text string) error {
	s.prompt.WriteString(text)
	return nil
}

func (s *scriptedSession) AddImage(encoded []byte) error { return nil }

func (s *scriptedSession) GenerateStream(ctx context.Context, fn func(string) error) error {
	s.l.mu.Lock()
	s.l.sessions++
	s.l.mu.Unlock()
	for _, c := range []string{"Hi", " there", "!"} {
		if err := fn(c); err != nil {
			return err
		}
	}
	p := s.prompt.String()
	switch {
	case strings.Contains(p, "block"):
		select {
		case <-s.closed:
			return engine.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	case strings.Contains(p, "fail"):
		return errors.New("decoder exploded")
	}
	return nil
}

func (s *scriptedSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// stack is a full in-process deployment behind an httptest server.
type stack struct {
	loader  *scriptedLoader
	manager *manager.Manager
	bridge  *bridge.Bridge
	server  *httptest.Server
}

// createAssetsDir creates a bundle directory populated with the named files.
func createAssetsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("weights"), 0o644); err != nil {
			t.Fatalf("write asset %s: %v", n, err)
		}
	}
	return dir
}

func newStack(t *testing.T, assetNames ...string) *stack {
	t.Helper()
	src, err := assets.NewDirSource(createAssetsDir(t, assetNames...))
	if err != nil {
		t.Fatalf("dir source: %v", err)
	}
	res, err := assets.NewResolver(src, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	bus := events.NewBus()
	l := &scriptedLoader{}
	mgr := manager.NewWithConfig(manager.ManagerConfig{TextLoader: l, VisionLoader: l, Assets: res, Publisher: bus})
	br := bridge.New(mgr, bus, memstats.New(mgr.Len).Snapshot, nil)
	srv := httptest.NewServer(httpapi.NewMux(httpapi.NewService(br, mgr, res)))
	s := &stack{loader: l, manager: mgr, bridge: br, server: srv}
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = br.Wait(ctx)
	})
	return s
}

// connect returns a Binding over a connected Remote gateway.
func (s *stack) connect(t *testing.T) (*client.Binding, *client.Remote) {
	t.Helper()
	r, err := client.NewRemote(s.server.URL)
	if err != nil {
		t.Fatalf("remote: %v", err)
	}
	if err := r.Connect(testCtx(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	b := client.New(r)
	t.Cleanup(func() {
		_ = b.Close()
		_ = r.Close()
	})
	return b, r
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
