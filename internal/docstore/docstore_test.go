package docstore_test

import (
	"errors"
	"testing"

	"github.com/developingchet/regionsync/internal/docstore"
	"github.com/developingchet/regionsync/internal/region"
)

func TestStaticDocument_Decode(t *testing.T) {
	d := docstore.Doc("r1", "Besusu", "gangguan", "trafo")
	var f region.Fields
	if err := d.Decode(&f); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.ID() != "r1" || f.Name != "Besusu" || f.Status != "gangguan" || f.Info != "trafo" {
		t.Fatalf("unexpected fields: %s %+v", d.ID(), f)
	}
	if f.LastUpdate == nil {
		t.Fatal("Doc should stamp lastUpdate")
	}
}

func TestStaticDocument_DecodeError(t *testing.T) {
	want := errors.New("bad field type")
	d := docstore.StaticDocument{DocID: "r1", Err: want}
	var f region.Fields
	if err := d.Decode(&f); !errors.Is(err, want) {
		t.Fatalf("expected injected error, got %v", err)
	}
}

func TestErrNotFound(t *testing.T) {
	var err error = &docstore.ErrNotFound{Collection: "regions", ID: "r9"}
	if err.Error() != "not found: regions/r9" {
		t.Fatalf("message: %q", err.Error())
	}
	var nf *docstore.ErrNotFound
	if !errors.As(err, &nf) || nf.ID != "r9" {
		t.Fatal("errors.As should match *ErrNotFound")
	}
}
