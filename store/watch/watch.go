// Package watch serves live queries for backends without native change
// feeds. Each subscription re-reads its query on a timer and whenever the
// backend nudges the collection, and delivers a snapshot only when the
// result changed.
package watch

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/bursar/store"
)

// DefaultInterval is how often an idle subscription re-reads its query.
const DefaultInterval = 2 * time.Second

// Loader reads the current result of one live query.
type Loader func(ctx context.Context) ([]store.Document, error)

// Hub owns the polling subscriptions of one store.
type Hub struct {
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*poller
	nextID uint64
	closed bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// New creates a Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		interval: DefaultInterval,
		logger:   slog.Default(),
		subs:     make(map[uint64]*poller),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type poller struct {
	collection string
	load       Loader
	handler    store.Handler
	nudge      chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}

	revision uint64
	digest   [sha256.Size]byte
	primed   bool
}

// Subscribe delivers the result of load now and again whenever it changes,
// until the returned Unsubscribe is called. The first read happens before
// Subscribe returns; its failure is returned.
func (h *Hub) Subscribe(ctx context.Context, collection string, load Loader, handler store.Handler) (store.Unsubscribe, error) {
	docs, err := load(ctx)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &poller{
		collection: collection,
		load:       load,
		handler:    handler,
		nudge:      make(chan struct{}, 1),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, store.ErrStoreUnavailable
	}
	h.nextID++
	key := h.nextID
	h.subs[key] = p
	h.mu.Unlock()

	p.offer(docs)
	go p.run(pctx, h.interval, h.logger)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, key)
			h.mu.Unlock()
			p.stop()
		})
	}, nil
}

// Notify asks every subscription on collection to re-read soon.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.subs {
		if collection == "" || p.collection == collection {
			select {
			case p.nudge <- struct{}{}:
			default:
			}
		}
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops every subscription and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*poller)
	h.mu.Unlock()

	for _, p := range subs {
		p.stop()
	}
}

func (p *poller) run(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	defer close(p.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.nudge:
		}

		docs, err := p.load(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("live query reload failed", "collection", p.collection, "error", err)
			// The next good read is delivered even when nothing changed.
			p.primed = false
			p.handler(store.Snapshot{Revision: p.revision, Err: err})
			continue
		}
		p.offer(docs)
	}
}

// offer delivers docs when they differ from the last delivered result.
func (p *poller) offer(docs []store.Document) {
	sum := digest(docs)
	if p.primed && sum == p.digest {
		return
	}
	p.primed = true
	p.digest = sum
	p.revision++
	p.handler(store.Snapshot{Docs: docs, Revision: p.revision})
}

func (p *poller) stop() {
	p.cancel()
	<-p.done
}

func digest(docs []store.Document) [sha256.Size]byte {
	h := sha256.New()
	for _, d := range docs {
		body, err := d.Marshal()
		if err != nil {
			// Unencodable documents always count as a change.
			body = []byte(time.Now().String())
		}
		h.Write(body)
		h.Write([]byte{0})
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
