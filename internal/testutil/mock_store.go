package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/developingchet/regionsync/internal/storage"
)

// MockStore implements storage.Store in memory for testing.
// All methods are safe for concurrent use.
type MockStore struct {
	mu    sync.Mutex
	role  *storage.RoleRecord
	audit []storage.AuditEntry

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// SizeBytes value returned by SizeBytes()
	Size int64
}

// NewMockStore returns a zero-state MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		errors: make(map[string]error),
		Size:   1024,
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockStore) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

// --- Role mirror ------------------------------------------------------------

func (m *MockStore) GetRole() (*storage.RoleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("GetRole"); err != nil {
		return nil, err
	}
	if m.role == nil {
		return nil, nil
	}
	cp := *m.role
	return &cp, nil
}

func (m *MockStore) SetRole(rec storage.RoleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("SetRole"); err != nil {
		return err
	}
	m.role = &rec
	return nil
}

func (m *MockStore) ClearRole() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("ClearRole"); err != nil {
		return err
	}
	m.role = nil
	return nil
}

// --- Audit log --------------------------------------------------------------

func (m *MockStore) AppendAudit(entry storage.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("AppendAudit"); err != nil {
		return err
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	m.audit = append(m.audit, entry)
	return nil
}

func (m *MockStore) ListAudit() ([]storage.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("ListAudit"); err != nil {
		return nil, err
	}
	out := make([]storage.AuditEntry, len(m.audit))
	copy(out, m.audit)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (m *MockStore) PruneAuditBefore(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PruneAuditBefore"); err != nil {
		return 0, err
	}
	kept := m.audit[:0]
	pruned := 0
	for _, e := range m.audit {
		if e.RecordedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	m.audit = kept
	return pruned, nil
}

// --- Utility ----------------------------------------------------------------

func (m *MockStore) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("SizeBytes"); err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (m *MockStore) Close() error {
	return nil
}
