package testutil

import (
	"context"
	"sync"

	"github.com/developingchet/regionsync/internal/docstore"
	"github.com/developingchet/regionsync/internal/region"
)

// UpdateCall records one UpdateRegion invocation.
type UpdateCall struct {
	ID     string
	Update docstore.RegionUpdate
}

// MockDocStore implements docstore.Store for testing.
// All methods are safe for concurrent use.
type MockDocStore struct {
	mu sync.Mutex

	docs    []docstore.StaticDocument
	roles   map[string]string
	feeds   []*MockFeed
	updates []UpdateCall

	// FetchBlock, when set, makes Fetch wait until it is closed or ctx ends.
	FetchBlock chan struct{}
	// PushOnUpdate makes UpdateRegion push the modified collection to every
	// open feed, as the real store's listener would.
	PushOnUpdate bool

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// Call counts per method
	calls map[string]int
}

// NewMockDocStore returns an empty MockDocStore.
func NewMockDocStore() *MockDocStore {
	return &MockDocStore{
		roles:  make(map[string]string),
		errors: make(map[string]error),
		calls:  make(map[string]int),
	}
}

// SetDocuments presets the regions collection.
func (m *MockDocStore) SetDocuments(docs ...docstore.StaticDocument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append([]docstore.StaticDocument(nil), docs...)
}

// SetUserRole presets users/{uid}.role.
func (m *MockDocStore) SetUserRole(uid, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[uid] = role
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockDocStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// Calls returns the number of times the named method was called.
func (m *MockDocStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Updates returns the recorded UpdateRegion calls in order.
func (m *MockDocStore) Updates() []UpdateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UpdateCall(nil), m.updates...)
}

// Feeds returns every feed opened by Watch, oldest first.
func (m *MockDocStore) Feeds() []*MockFeed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockFeed(nil), m.feeds...)
}

// LastFeed returns the most recently opened feed, or nil.
func (m *MockDocStore) LastFeed() *MockFeed {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.feeds) == 0 {
		return nil
	}
	return m.feeds[len(m.feeds)-1]
}

func (m *MockDocStore) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

func (m *MockDocStore) snapshot() []docstore.RawDocument {
	out := make([]docstore.RawDocument, len(m.docs))
	for i, d := range m.docs {
		out[i] = d
	}
	return out
}

// --- docstore.Store implementation ------------------------------------------

func (m *MockDocStore) Watch(ctx context.Context) docstore.Feed {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Watch"]++
	f := newMockFeed(ctx)
	m.feeds = append(m.feeds, f)
	return f
}

func (m *MockDocStore) Fetch(ctx context.Context) ([]docstore.RawDocument, error) {
	m.mu.Lock()
	m.calls["Fetch"]++
	block := m.FetchBlock
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Fetch"); err != nil {
		return nil, err
	}
	return m.snapshot(), nil
}

func (m *MockDocStore) UpdateRegion(ctx context.Context, id string, u docstore.RegionUpdate) error {
	m.mu.Lock()
	m.calls["UpdateRegion"]++
	if err := m.popError("UpdateRegion"); err != nil {
		m.mu.Unlock()
		return err
	}
	m.updates = append(m.updates, UpdateCall{ID: id, Update: u})

	found := false
	for i := range m.docs {
		if m.docs[i].DocID == id {
			m.docs[i].Fields.Status = u.Status
			m.docs[i].Fields.Info = u.Info
			found = true
		}
	}
	if !found {
		m.mu.Unlock()
		return &docstore.ErrNotFound{Collection: "regions", ID: id}
	}

	var feeds []*MockFeed
	var snap []docstore.RawDocument
	if m.PushOnUpdate {
		feeds = append(feeds, m.feeds...)
		snap = m.snapshot()
	}
	m.mu.Unlock()

	for _, f := range feeds {
		f.Push(snap...)
	}
	return nil
}

func (m *MockDocStore) UserRole(ctx context.Context, uid string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["UserRole"]++
	if err := m.popError("UserRole"); err != nil {
		return "", false, err
	}
	role, ok := m.roles[uid]
	return role, ok, nil
}

func (m *MockDocStore) Close() error {
	return nil
}

// --- Feed -------------------------------------------------------------------

type feedItem struct {
	docs []docstore.RawDocument
	err  error
}

// MockFeed is a docstore.Feed driven by the test.
type MockFeed struct {
	ctx      context.Context
	items    chan feedItem
	stopped  chan struct{}
	stopOnce sync.Once
}

func newMockFeed(ctx context.Context) *MockFeed {
	return &MockFeed{
		ctx:     ctx,
		items:   make(chan feedItem, 64),
		stopped: make(chan struct{}),
	}
}

// Push queues a snapshot. Pushes to a stopped feed are discarded.
func (f *MockFeed) Push(docs ...docstore.RawDocument) {
	select {
	case <-f.stopped:
	case f.items <- feedItem{docs: docs}:
	}
}

// PushRegions queues a snapshot built from decodable documents.
func (f *MockFeed) PushRegions(regions ...region.Region) {
	docs := make([]docstore.RawDocument, len(regions))
	for i, r := range regions {
		docs[i] = docstore.StaticDocument{
			DocID:  r.ID,
			Fields: region.Fields{Name: r.Name, Status: r.Status, Info: r.Info, LastUpdate: r.LastUpdate},
		}
	}
	f.Push(docs...)
}

// Fail queues a transport error.
func (f *MockFeed) Fail(err error) {
	select {
	case <-f.stopped:
	case f.items <- feedItem{err: err}:
	}
}

// Stopped reports whether Stop has been called.
func (f *MockFeed) Stopped() bool {
	select {
	case <-f.stopped:
		return true
	default:
		return false
	}
}

func (f *MockFeed) Next() ([]docstore.RawDocument, error) {
	select {
	case <-f.stopped:
		return nil, docstore.ErrStopped
	case <-f.ctx.Done():
		return nil, docstore.ErrStopped
	case it := <-f.items:
		if it.err != nil {
			return nil, it.err
		}
		return it.docs, nil
	}
}

func (f *MockFeed) Stop() {
	f.stopOnce.Do(func() { close(f.stopped) })
}
