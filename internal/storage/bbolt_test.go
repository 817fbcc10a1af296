package storage

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBboltStore(dir)
	if err != nil {
		t.Fatalf("NewBboltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoleSetGetClear(t *testing.T) {
	s := newTestStore(t)

	// Nothing persisted yet
	rec, err := s.GetRole()
	if err != nil || rec != nil {
		t.Fatalf("GetRole before set: rec=%v err=%v", rec, err)
	}

	if err := s.SetRole(RoleRecord{Role: "admin", UserID: "uid-1"}); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	rec, err = s.GetRole()
	if err != nil || rec == nil {
		t.Fatalf("GetRole after set: rec=%v err=%v", rec, err)
	}
	if rec.Role != "admin" || rec.UserID != "uid-1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be stamped")
	}

	if err := s.ClearRole(); err != nil {
		t.Fatalf("ClearRole: %v", err)
	}
	rec, _ = s.GetRole()
	if rec != nil {
		t.Fatalf("GetRole after clear = %+v, want nil", rec)
	}
}

func TestRoleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBboltStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetRole(RoleRecord{Role: "admin"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := NewBboltStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	rec, err := s2.GetRole()
	if err != nil || rec == nil || rec.Role != "admin" {
		t.Fatalf("role after reopen: rec=%v err=%v", rec, err)
	}
}

func TestAuditAppendListOrdered(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i := 3; i >= 1; i-- {
		entry := AuditEntry{
			ID:         fmt.Sprintf("id-%d", i),
			RegionID:   "r1",
			Outcome:    "applied",
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendAudit(entry); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	list, err := s.ListAudit()
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	for i, want := range []string{"id-1", "id-2", "id-3"} {
		if list[i].ID != want {
			t.Errorf("entry %d = %s, want %s", i, list[i].ID, want)
		}
	}
}

func TestPruneAuditBefore(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	_ = s.AppendAudit(AuditEntry{ID: "old", RecordedAt: now.Add(-48 * time.Hour)})
	_ = s.AppendAudit(AuditEntry{ID: "older", RecordedAt: now.Add(-72 * time.Hour)})
	_ = s.AppendAudit(AuditEntry{ID: "fresh", RecordedAt: now.Add(-time.Minute)})

	pruned, err := s.PruneAuditBefore(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneAuditBefore: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("expected 2 pruned, got %d", pruned)
	}
	list, _ := s.ListAudit()
	if len(list) != 1 || list[0].ID != "fresh" {
		t.Fatalf("remaining = %+v", list)
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.AppendAudit(AuditEntry{ID: fmt.Sprintf("c-%d", i)}); err != nil {
				t.Errorf("AppendAudit: %v", err)
			}
		}(i)
	}
	wg.Wait()
	list, err := s.ListAudit()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 20 {
		t.Errorf("expected 20 entries, got %d", len(list))
	}
}

func TestSizeBytes(t *testing.T) {
	s := newTestStore(t)
	size, err := s.SizeBytes()
	if err != nil {
		t.Fatalf("SizeBytes: %v", err)
	}
	if size <= 0 {
		t.Errorf("expected positive size, got %d", size)
	}
}
