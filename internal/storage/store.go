package storage

import (
	"time"
)

// RoleRecord is the persisted mirror of the last known role.
type RoleRecord struct {
	Role      string
	UserID    string
	UpdatedAt time.Time
}

// AuditEntry records one edit attempt and how it ended.
type AuditEntry struct {
	ID         string
	RegionID   string
	Status     string
	Info       string
	UserID     string
	Outcome    string // "denied", "invalid", "applied", "failed"
	Error      string
	RecordedAt time.Time
}

// Store is the persistence interface for local state.
type Store interface {
	// Role mirror. GetRole returns nil, nil when nothing is persisted.
	GetRole() (*RoleRecord, error)
	SetRole(rec RoleRecord) error
	ClearRole() error

	// Audit log
	AppendAudit(entry AuditEntry) error
	ListAudit() ([]AuditEntry, error)
	PruneAuditBefore(cutoff time.Time) (int, error)

	// Utility
	SizeBytes() (int64, error)
	Close() error
}
