package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketSession = "session"
	bucketAudit   = "audit"

	keyRole = "role"
)

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/regionsync.db.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "regionsync.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketSession, bucketAudit} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

// ---- Role mirror -----------------------------------------------------------

func (s *bboltStore) GetRole() (*RoleRecord, error) {
	var rec RoleRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketSession)).Get([]byte(keyRole))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("read role record: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (s *bboltStore) SetRole(rec RoleRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal RoleRecord: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSession)).Put([]byte(keyRole), data)
	})
}

func (s *bboltStore) ClearRole() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSession)).Delete([]byte(keyRole))
	})
}

// ---- Audit log -------------------------------------------------------------

// AppendAudit stores entry under a key of its big-endian RecordedAt nanos
// followed by its ID, so a cursor walks entries in time order.
func (s *bboltStore) AppendAudit(entry AuditEntry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	data, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal AuditEntry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAudit)).Put(auditKey(entry), data)
	})
}

func (s *bboltStore) ListAudit() ([]AuditEntry, error) {
	var result []AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAudit)).ForEach(func(k, v []byte) error {
			var entry AuditEntry
			if err := msgpack.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal AuditEntry for %x: %w", k, err)
			}
			result = append(result, entry)
			return nil
		})
	})
	return result, err
}

func (s *bboltStore) PruneAuditBefore(cutoff time.Time) (int, error) {
	limit := uint64(cutoff.UTC().UnixNano())
	var pruned int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAudit))
		var toDelete [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if len(k) < 8 || binary.BigEndian.Uint64(k[:8]) >= limit {
				break
			}
			key := make([]byte, len(k))
			copy(key, k)
			toDelete = append(toDelete, key)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

func auditKey(entry AuditEntry) []byte {
	key := make([]byte, 8, 8+len(entry.ID))
	binary.BigEndian.PutUint64(key, uint64(entry.RecordedAt.UTC().UnixNano()))
	return append(key, entry.ID...)
}

// ---- Utility ---------------------------------------------------------------

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
