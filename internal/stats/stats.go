// Package stats folds a region snapshot into per-status counts.
package stats

import (
	"fmt"

	"github.com/developingchet/regionsync/internal/region"
)

// Snapshot is an immutable statistics value derived from one region snapshot.
// It is recomputed from scratch on every change, never updated incrementally.
type Snapshot struct {
	Total      int `json:"total"`
	Normal     int `json:"normal"`
	Disrupted  int `json:"disrupted"`
	InProgress int `json:"in_progress"`
}

// Calculate counts regions per known status. Regions with an empty or
// unrecognised status count towards Total only.
func Calculate(regions []region.Region) Snapshot {
	s := Snapshot{Total: len(regions)}
	for _, r := range regions {
		switch r.Kind() {
		case region.Normal:
			s.Normal++
		case region.Disrupted:
			s.Disrupted++
		case region.InProgress:
			s.InProgress++
		}
	}
	return s
}

// Count returns the number of regions with the given status.
func (s Snapshot) Count(status region.Status) int {
	switch status {
	case region.Normal:
		return s.Normal
	case region.Disrupted:
		return s.Disrupted
	case region.InProgress:
		return s.InProgress
	default:
		return s.Total - s.Normal - s.Disrupted - s.InProgress
	}
}

// Percentage returns floor(count*100/total), or 0 for an empty snapshot.
// Percentages are floored independently and need not sum to 100.
func (s Snapshot) Percentage(status region.Status) int {
	if s.Total == 0 {
		return 0
	}
	return s.Count(status) * 100 / s.Total
}

// AllNormal reports whether the snapshot is non-empty and every region is normal.
func (s Snapshot) AllNormal() bool {
	return s.Total > 0 && s.Normal == s.Total
}

// HasIssues reports whether any region is disrupted or being worked on.
func (s Snapshot) HasIssues() bool {
	return s.Disrupted > 0 || s.InProgress > 0
}

func (s Snapshot) String() string {
	return fmt.Sprintf("total=%d normal=%d(%d%%) disrupted=%d(%d%%) in_progress=%d(%d%%)",
		s.Total,
		s.Normal, s.Percentage(region.Normal),
		s.Disrupted, s.Percentage(region.Disrupted),
		s.InProgress, s.Percentage(region.InProgress))
}
