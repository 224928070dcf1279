package manager

import (
	"errors"
	"strings"
	"testing"

	"llmbridge/internal/engine"
	"llmbridge/internal/events"
	"llmbridge/pkg/types"
)

func TestCreateAssignsMonotonicHandles(t *testing.T) {
	l := &fakeLoader{}
	m, _ := newTestManager(l)
	ctx := testCtx(t)

	h1, err := m.Create(ctx, textConfig())
	if err != nil || h1 != 1 {
		t.Fatalf("first handle = %d, %v", h1, err)
	}
	h2, err := m.Create(ctx, textConfig())
	if err != nil || h2 != 2 {
		t.Fatalf("second handle = %d, %v", h2, err)
	}

	l.loadErr = errors.New("corrupt weights")
	if _, err := m.Create(ctx, textConfig()); !types.IsModelLoad(err) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
	l.loadErr = nil
	h4, err := m.Create(ctx, textConfig())
	if err != nil || h4 != 4 {
		t.Fatalf("handle after failed create = %d, want 4 (%v)", h4, err)
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 instances, got %d", m.Len())
	}
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	m, _ := newTestManager(&fakeLoader{})
	if _, err := m.Create(testCtx(t), types.ModelConfig{Params: types.DefaultGenerationParams()}); !types.IsModelLoad(err) {
		t.Fatalf("expected ModelLoadError for missing source, got %v", err)
	}
}

func TestReleaseTwiceFailsWithInvalidHandle(t *testing.T) {
	m, _ := newTestManager(&fakeLoader{})
	h, err := m.Create(testCtx(t), textConfig())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := m.Release(h)
	if !ok || err != nil {
		t.Fatalf("release: %v %v", ok, err)
	}
	if _, err := m.Release(h); !types.IsInvalidHandle(err) {
		t.Fatalf("second release: expected InvalidHandle, got %v", err)
	}
	if _, err := m.Release(99); !types.IsInvalidHandle(err) {
		t.Fatalf("never-issued handle: expected InvalidHandle, got %v", err)
	}
	if _, err := m.Dispatch(testCtx(t), h, 0, "hello", nil); !types.IsInvalidHandle(err) {
		t.Fatalf("dispatch after release: expected InvalidHandle, got %v", err)
	}
}

func TestReleasedHandleIsNeverReused(t *testing.T) {
	m, _ := newTestManager(&fakeLoader{})
	ctx := testCtx(t)
	h1, _ := m.Create(ctx, textConfig())
	_, _ = m.Release(h1)
	h2, _ := m.Create(ctx, textConfig())
	if h2 == h1 {
		t.Fatalf("released handle %d was reused", h1)
	}
}

func TestGPUFallsBackToCPU(t *testing.T) {
	l := &fakeLoader{noGPU: true}
	m, pub := newTestManager(l)
	cfg := textConfig()
	cfg.Params.PreferGPU = true
	h, err := m.Create(testCtx(t), cfg)
	if err != nil {
		t.Fatalf("create must not surface gpu failure: %v", err)
	}
	if len(l.loads) != 2 || l.loads[0].Backend != engine.BackendGPU || l.loads[1].Backend != engine.BackendCPU {
		t.Fatalf("expected gpu then cpu load, got %+v", l.loads)
	}
	st := m.Status()
	if len(st.Instances) != 1 || st.Instances[0].Handle != h || st.Instances[0].Backend != "cpu" {
		t.Fatalf("status = %+v", st)
	}
	found := false
	for _, e := range pub.OfKind(events.KindLogging) {
		if e.Handle == h && strings.Contains(e.Message, "falling back") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected fallback logging event, got %+v", pub.Events())
	}
}

func TestVisionModelUsesCPUAndVisionLoader(t *testing.T) {
	text := &fakeLoader{}
	vision := &fakeLoader{vision: true}
	m := NewWithConfig(ManagerConfig{TextLoader: text, VisionLoader: vision})
	cfg := visionConfig()
	cfg.Params.PreferGPU = true
	if _, err := m.Create(testCtx(t), cfg); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(text.loads) != 0 || len(vision.loads) != 1 {
		t.Fatalf("vision model went to the wrong loader: text=%d vision=%d", len(text.loads), len(vision.loads))
	}
	if vision.loads[0].Backend != engine.BackendCPU || !vision.loads[0].Vision {
		t.Fatalf("vision load options = %+v", vision.loads[0])
	}
}

func TestVisionModelWithoutVisionLoaderFailsFast(t *testing.T) {
	l := &fakeLoader{}
	m := NewWithConfig(ManagerConfig{TextLoader: l})
	if _, err := m.Create(testCtx(t), visionConfig()); !types.IsVisionNotEnabled(err) {
		t.Fatalf("expected VisionNotEnabled, got %v", err)
	}
	if len(l.loads) != 0 {
		t.Fatalf("engine must not be constructed")
	}
}

func TestCreateFromAsset(t *testing.T) {
	l := &fakeLoader{}
	m := NewWithConfig(ManagerConfig{
		TextLoader: l,
		Assets:     fakeAssets{"gemma.bin": "/cache/gemma.bin"},
	})
	h, err := m.CreateFromAsset(testCtx(t), "gemma.bin", types.DefaultGenerationParams())
	if err != nil {
		t.Fatalf("create from asset: %v", err)
	}
	if l.loads[0].ModelPath != "/cache/gemma.bin" {
		t.Fatalf("model path = %q", l.loads[0].ModelPath)
	}
	if st := m.Status(); st.Instances[0].Handle != h || st.Instances[0].Source != "asset:gemma.bin" {
		t.Fatalf("status = %+v", st)
	}
	if _, err := m.CreateFromAsset(testCtx(t), "missing.bin", types.DefaultGenerationParams()); !types.IsAssetNotFound(err) {
		t.Fatalf("expected AssetNotFound, got %v", err)
	}
}

func TestCreateFromAssetWithoutResolver(t *testing.T) {
	m, _ := newTestManager(&fakeLoader{})
	if _, err := m.CreateFromAsset(testCtx(t), "x.bin", types.DefaultGenerationParams()); !types.IsAssetNotFound(err) {
		t.Fatalf("expected AssetNotFound, got %v", err)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	l := &fakeLoader{}
	m, _ := newTestManager(l)
	ctx := testCtx(t)
	_, _ = m.Create(ctx, textConfig())
	_, _ = m.Create(ctx, textConfig())
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, e := range l.engines {
		if !e.closed {
			t.Fatalf("engine not closed")
		}
	}
	if m.Ready() || m.Len() != 0 {
		t.Fatalf("manager should be empty and not ready after Close")
	}
	if _, err := m.Create(ctx, textConfig()); !types.IsModelLoad(err) {
		t.Fatalf("create after close: %v", err)
	}
	if st := m.Status(); st.CreatedTotal != 2 || st.ReleasedTotal != 2 {
		t.Fatalf("counters = %+v", st)
	}
}
