package manager

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llmbridge/internal/engine"
	"llmbridge/internal/events"
	"llmbridge/internal/imaging"
	"llmbridge/pkg/types"
)

// State represents lifecycle state of an instance.
type State string

const (
	StateReady      State = "ready"
	StateGenerating State = "generating"
	StateClosed     State = "closed"
)

// Instance wraps one loaded engine and at most one active generation.
type Instance struct {
	Handle    types.Handle
	Config    types.ModelConfig
	ModelPath string
	Backend   engine.Backend
	Engine    string

	mu          sync.Mutex
	state       State
	eng         engine.Engine
	active      *generation
	generations uint64
	lastUsed    time.Time

	publisher  events.Publisher
	normalizer *imaging.Normalizer
	log        zerolog.Logger
}

// generation is the transient state of one in-flight request.
type generation struct {
	requestID types.RequestID
	session   engine.Session

	// mu guards the flags and the accumulation. A fragment that arrives
	// after superseded is set is dropped; publication happens outside mu.
	mu         sync.Mutex
	superseded bool
	released   bool
	acc        strings.Builder
}

// stop marks the generation as superseded (or released) and closes its
// engine session.
func (g *generation) stop(released bool) {
	g.mu.Lock()
	if released {
		g.released = true
	} else {
		g.superseded = true
	}
	g.mu.Unlock()
	_ = g.session.Close()
}
