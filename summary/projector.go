package summary

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
)

// Sink receives the output of a live projection. Callbacks run on the
// projection's worker goroutine, one at a time.
type Sink[T any] interface {
	OnUpdate(value T)
	OnError(err error)
}

// SinkFuncs adapts plain functions to a Sink. Nil functions are skipped.
type SinkFuncs[T any] struct {
	Update func(T)
	Error  func(error)
}

// OnUpdate implements Sink.
func (s SinkFuncs[T]) OnUpdate(value T) {
	if s.Update != nil {
		s.Update(value)
	}
}

// OnError implements Sink.
func (s SinkFuncs[T]) OnError(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}

// Compute turns the documents of one snapshot into a projection value.
type Compute[T any] func(docs []store.Document) (T, error)

// Option configures a projector.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the projector's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// Projector keeps a value computed from a live query up to date.
//
// Every store notification is a full snapshot. Notifications that arrive
// while a recompute is running collapse into one pending slot holding the
// newest snapshot; older revisions are dropped. A single worker recomputes
// and calls the sink.
type Projector[T any] struct {
	id      string
	compute Compute[T]
	sink    Sink[T]
	logger  *slog.Logger

	mu        sync.Mutex
	pending   *store.Snapshot
	delivered uint64
	closed    bool
	inSink    bool
	unsub     store.Unsubscribe
	stopCtx   func() bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// Watch subscribes to collection and starts projecting. The projection
// stops when Unsubscribe is called or ctx is done.
func Watch[T any](
	ctx context.Context,
	s store.Store,
	collection string,
	q store.Query,
	compute Compute[T],
	sink Sink[T],
	opts ...Option,
) (*Projector[T], error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	pid := id.NewProjectionID().String()
	p := &Projector[T]{
		id:      pid,
		compute: compute,
		sink:    sink,
		logger:  cfg.logger.With("projection_id", pid, "collection", collection),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()

	unsub, err := s.Subscribe(ctx, collection, q, p.handle)
	if err != nil {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
		<-p.stopped
		return nil, err
	}

	p.mu.Lock()
	p.unsub = unsub
	closed := p.closed
	if !closed {
		p.stopCtx = context.AfterFunc(ctx, p.Unsubscribe)
	}
	p.mu.Unlock()

	// Unsubscribed from the sink before Subscribe returned.
	if closed {
		unsub()
	}
	return p, nil
}

// ID returns the projection handle.
func (p *Projector[T]) ID() string { return p.id }

// Unsubscribe releases the store subscription and stops the worker. Once
// it returns no new callback starts. It may be called from inside a sink
// callback, in which case it does not wait for that callback to return.
func (p *Projector[T]) Unsubscribe() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	reentrant := p.inSink
	unsub, stopCtx := p.unsub, p.stopCtx
	p.pending = nil
	p.mu.Unlock()

	if stopCtx != nil {
		stopCtx()
	}
	if unsub != nil {
		unsub()
	}
	close(p.done)
	if !reentrant {
		<-p.stopped
	}
}

// Revision returns the revision of the last snapshot delivered to the sink.
func (p *Projector[T]) Revision() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delivered
}

// handle is the store handler. It never blocks on the worker.
func (p *Projector[T]) handle(snap store.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if snap.Err == nil {
		if snap.Revision < p.delivered || (p.pending != nil && snap.Revision < p.pending.Revision) {
			p.logger.Debug("projection dropped stale snapshot", "revision", snap.Revision)
			return
		}
	}
	p.pending = &snap

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Projector[T]) run() {
	defer close(p.stopped)

	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		p.mu.Lock()
		snap := p.pending
		p.pending = nil
		p.mu.Unlock()

		if snap != nil {
			p.process(*snap)
		}
	}
}

func (p *Projector[T]) process(snap store.Snapshot) {
	if snap.Err != nil {
		p.logger.Warn("projection subscription failed", "error", snap.Err)
		p.emit(snap.Revision, false, func() { p.sink.OnError(snap.Err) })
		return
	}

	value, err := p.compute(snap.Docs)
	if err != nil {
		p.logger.Warn("projection recompute failed", "revision", snap.Revision, "error", err)
		p.emit(snap.Revision, false, func() { p.sink.OnError(err) })
		return
	}

	p.emit(snap.Revision, true, func() { p.sink.OnUpdate(value) })
	p.logger.Debug("projection updated", "revision", snap.Revision, "documents", len(snap.Docs))
}

func (p *Projector[T]) emit(revision uint64, advance bool, call func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if advance {
		p.delivered = max(p.delivered, revision)
	}
	p.inSink = true
	p.mu.Unlock()

	call()

	p.mu.Lock()
	p.inSink = false
	p.mu.Unlock()
}
