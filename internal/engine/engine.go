package engine

import (
	"github.com/rs/zerolog"

	"github.com/isb2026/bomrel/internal/assign"
	"github.com/isb2026/bomrel/internal/metrics"
	"github.com/isb2026/bomrel/internal/relation"
	"github.com/isb2026/bomrel/internal/store"
)

// Engine validates and commits structural and assignment changes against
// one storage backend.
//
// Thread-safety: all methods are safe for concurrent use. Structural
// mutations on the same root queue behind the root's lock; everything else
// runs in parallel and relies on storage transactions.
type Engine struct {
	backend   store.Backend
	validator *relation.Validator
	tracker   *assign.Tracker
	locks     *rootLocks
	clock     *Clock
	ids       IDGenerator
	log       zerolog.Logger
	metrics   *metrics.Metrics

	maxSubtreeNodes int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger request transitions are written to.
// Default: no logging.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithMetrics sets the metrics requests are recorded in.
// Default: unregistered metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithIDGenerator sets the generator for node ids a subtree leaves empty.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithMaxSubtreeNodes caps the node count of one insert or tree creation.
//
// Default: 10000 nodes (DefaultMaxSubtreeNodes)
// Use WithMaxSubtreeNodes(0) to disable the cap.
func WithMaxSubtreeNodes(n int) Option {
	return func(e *Engine) {
		e.maxSubtreeNodes = n
	}
}

// New creates an Engine over backend. The engine does not own the backend;
// callers close it themselves.
func New(backend store.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:         backend,
		validator:       relation.New(),
		tracker:         assign.New(),
		locks:           newRootLocks(),
		clock:           NewClock(),
		ids:             UUIDv7Generator{},
		log:             zerolog.Nop(),
		maxSubtreeNodes: DefaultMaxSubtreeNodes,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop()
	}
	return e
}

// Backend returns the storage backend the engine writes to.
func (e *Engine) Backend() store.Backend {
	return e.backend
}
