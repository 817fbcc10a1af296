// Package subscription owns the single live push subscription to the
// regions collection.
package subscription

import (
	"context"
	"errors"
	"sync"

	"github.com/developingchet/regionsync/internal/docstore"
	"github.com/developingchet/regionsync/internal/metrics"
	"github.com/developingchet/regionsync/internal/region"
	"github.com/rs/zerolog"
)

// Source is the part of docstore.Store the manager reads from.
type Source interface {
	Watch(ctx context.Context) docstore.Feed
	Fetch(ctx context.Context) ([]docstore.RawDocument, error)
}

// SnapshotFunc receives every decoded snapshot of the collection.
type SnapshotFunc func(regions []region.Region)

// ErrorFunc receives transport errors, always as *ConnectionError.
type ErrorFunc func(err error)

// Handle identifies one subscription. It is only meaningful to the Manager
// that returned it.
type Handle struct {
	id     uint64
	active bool // guarded by Manager.deliverMu

	cancel   context.CancelFunc
	feed     docstore.Feed
	stopOnce sync.Once
	done     chan struct{}
}

// ID returns the handle's sequence number, starting at 1.
func (h *Handle) ID() uint64 { return h.id }

// FetchResult is the outcome of a one-shot read.
type FetchResult struct {
	Regions []region.Region
	Err     error
}

// Manager keeps at most one active subscription. Callbacks run on the
// handle's delivery goroutine and must not call back into the Manager.
type Manager struct {
	src Source
	log zerolog.Logger

	subMu   sync.Mutex // serializes Subscribe, Unsubscribe and Close
	current *Handle
	nextID  uint64

	// deliverMu is held while a callback runs and while a handle is marked
	// inactive, so no callback starts for a handle after Unsubscribe returns.
	deliverMu sync.Mutex
}

// NewManager returns a Manager reading from src.
func NewManager(src Source, log zerolog.Logger) *Manager {
	return &Manager{src: src, log: log}
}

// Subscribe replaces any existing subscription with a new one. The previous
// handle is fully torn down before this returns.
func (m *Manager) Subscribe(onSnapshot SnapshotFunc, onError ErrorFunc) *Handle {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.current != nil {
		m.teardown(m.current)
		m.current = nil
	}

	m.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:     m.nextID,
		active: true,
		cancel: cancel,
		feed:   m.src.Watch(ctx),
		done:   make(chan struct{}),
	}
	m.current = h
	metrics.SubscriptionActive.Set(1)
	m.log.Debug().Uint64("handle", h.id).Msg("subscribed to region feed")

	go m.deliver(h, onSnapshot, onError)
	return h
}

// Unsubscribe stops h. It is idempotent and safe to call with a stale or nil
// handle. After it returns no callback is invoked for h.
func (m *Manager) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.teardown(h)
	if m.current == h {
		m.current = nil
		metrics.SubscriptionActive.Set(0)
	}
}

// Close unsubscribes the current handle, if any.
func (m *Manager) Close() {
	m.subMu.Lock()
	h := m.current
	m.subMu.Unlock()
	m.Unsubscribe(h)
}

// Active returns the current handle if it is still receiving, else nil.
func (m *Manager) Active() *Handle {
	m.subMu.Lock()
	h := m.current
	m.subMu.Unlock()
	if h == nil || !m.IsActive(h) {
		return nil
	}
	return h
}

// IsActive reports whether h may still deliver callbacks.
func (m *Manager) IsActive(h *Handle) bool {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	return h.active
}

// FetchOnce reads the collection once on its own goroutine. The returned
// channel is buffered so the read completes even if nobody receives.
func (m *Manager) FetchOnce(ctx context.Context) <-chan FetchResult {
	out := make(chan FetchResult, 1)
	go func() {
		docs, err := m.src.Fetch(ctx)
		if err != nil {
			metrics.SubscriptionErrors.WithLabelValues("fetch").Inc()
			out <- FetchResult{Err: &ConnectionError{Op: "fetch", Err: err}}
			return
		}
		out <- FetchResult{Regions: m.decode(docs)}
	}()
	return out
}

func (m *Manager) teardown(h *Handle) {
	m.deliverMu.Lock()
	h.active = false
	m.deliverMu.Unlock()

	h.stopOnce.Do(func() {
		h.cancel()
		h.feed.Stop()
	})
	<-h.done
}

func (m *Manager) deliver(h *Handle, onSnapshot SnapshotFunc, onError ErrorFunc) {
	defer close(h.done)
	log := m.log.With().Uint64("handle", h.id).Logger()

	for {
		docs, err := h.feed.Next()
		if err != nil {
			if errors.Is(err, docstore.ErrStopped) {
				return
			}
			m.deliverMu.Lock()
			if h.active {
				h.active = false
				metrics.SubscriptionErrors.WithLabelValues("watch").Inc()
				metrics.SubscriptionActive.Set(0)
				log.Warn().Err(err).Msg("region feed failed")
				if onError != nil {
					onError(&ConnectionError{Op: "watch", Err: err})
				}
			}
			m.deliverMu.Unlock()
			return
		}

		regions := m.decode(docs)

		m.deliverMu.Lock()
		if !h.active {
			m.deliverMu.Unlock()
			return
		}
		metrics.SnapshotsReceived.WithLabelValues("push").Inc()
		if onSnapshot != nil {
			onSnapshot(regions)
		}
		m.deliverMu.Unlock()
	}
}

// decode converts raw documents, skipping those that fail to decode.
func (m *Manager) decode(docs []docstore.RawDocument) []region.Region {
	regions := make([]region.Region, 0, len(docs))
	for _, d := range docs {
		var f region.Fields
		if err := d.Decode(&f); err != nil {
			derr := &DecodeError{DocumentID: d.ID(), Err: err}
			metrics.DocumentsSkipped.Inc()
			m.log.Warn().Err(derr).Str("document", d.ID()).Msg("skipping undecodable region")
			continue
		}
		regions = append(regions, region.FromFields(d.ID(), f))
	}
	return regions
}
