// Package docstore is the seam to the remote document store holding the
// regions and users collections.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/developingchet/regionsync/internal/region"
)

// ErrStopped is returned by Feed.Next once the feed has been stopped or its
// context cancelled.
var ErrStopped = errors.New("feed stopped")

// RawDocument is one undecoded region document.
type RawDocument interface {
	ID() string
	Decode(dst *region.Fields) error
}

// Feed is a push stream of full collection snapshots. Next blocks until the
// next snapshot is available. Stop may be called from any goroutine and makes
// a pending or later Next return ErrStopped; the goroutine calling Next
// releases the underlying stream once Next fails.
type Feed interface {
	Next() ([]RawDocument, error)
	Stop()
}

// RegionUpdate is the set of fields written by an edit. The store stamps
// lastUpdate with its own clock.
type RegionUpdate struct {
	Status string
	Info   string
}

// Store is the document store seam. All methods accept context for deadline control.
type Store interface {
	// Watch opens a push feed over the regions collection. Errors surface
	// from Feed.Next.
	Watch(ctx context.Context) Feed
	// Fetch performs a one-shot read of the whole regions collection.
	Fetch(ctx context.Context) ([]RawDocument, error)
	// UpdateRegion writes status and info to an existing region document.
	UpdateRegion(ctx context.Context, id string, u RegionUpdate) error
	// UserRole reads the role field of users/{uid}. ok is false when the
	// document or the field does not exist.
	UserRole(ctx context.Context, uid string) (role string, ok bool, err error)

	Close() error
}

// --- Typed errors -----------------------------------------------------------

// ErrNotFound is returned when a document does not exist.
type ErrNotFound struct {
	Collection string
	ID         string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("not found: %s/%s", e.Collection, e.ID)
}

// StaticDocument is an in-memory RawDocument, used for fixtures and by the
// CLI when printing decoded data.
type StaticDocument struct {
	DocID  string
	Fields region.Fields
	Err    error // returned by Decode when set
}

func (d StaticDocument) ID() string { return d.DocID }

func (d StaticDocument) Decode(dst *region.Fields) error {
	if d.Err != nil {
		return d.Err
	}
	*dst = d.Fields
	return nil
}

// Doc is a convenience constructor for a decodable StaticDocument.
func Doc(id, name, status, info string) StaticDocument {
	now := time.Now().UTC()
	return StaticDocument{
		DocID:  id,
		Fields: region.Fields{Name: name, Status: status, Info: info, LastUpdate: &now},
	}
}
