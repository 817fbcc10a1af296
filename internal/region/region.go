package region

import (
	"strings"
	"time"
)

// Status is the closed set of operational states a region can be in.
type Status int

const (
	Unknown Status = iota
	Normal
	Disrupted
	InProgress
)

// Canonical lowercase tokens as stored in the regions collection.
const (
	TokenNormal     = "normal"
	TokenDisrupted  = "gangguan"
	TokenInProgress = "dikerjakan"
)

var statusTokens = map[string]Status{
	TokenNormal:     Normal,
	TokenDisrupted:  Disrupted,
	"disrupted":     Disrupted,
	TokenInProgress: InProgress,
	"in_progress":   InProgress,
	"inprogress":    InProgress,
	"in-progress":   InProgress,
}

// ParseStatus classifies a raw status string. Matching is case-insensitive and
// ignores surrounding whitespace; anything unrecognised is Unknown.
func ParseStatus(raw string) Status {
	if s, ok := statusTokens[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return Unknown
}

// NormalizeStatus returns the canonical token for a recognised status and the
// input unchanged otherwise.
func NormalizeStatus(raw string) string {
	s := ParseStatus(raw)
	if s == Unknown {
		return raw
	}
	return s.Token()
}

// Token returns the canonical wire token, or "" for Unknown.
func (s Status) Token() string {
	switch s {
	case Normal:
		return TokenNormal
	case Disrupted:
		return TokenDisrupted
	case InProgress:
		return TokenInProgress
	default:
		return ""
	}
}

func (s Status) String() string {
	switch s {
	case Normal:
		return "normal"
	case Disrupted:
		return "disrupted"
	case InProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Known lists the statuses counted by statistics, in display order.
var Known = []Status{Normal, Disrupted, InProgress}

// Region is one sub-region document. ID is the remote document key.
type Region struct {
	ID         string
	Name       string
	Status     string // normalised on ingest, see NormalizeStatus
	Info       string
	LastUpdate *time.Time
}

// Kind classifies the region's status.
func (r Region) Kind() Status {
	return ParseStatus(r.Status)
}

// Fields is the document body of a region as stored remotely.
type Fields struct {
	Name       string     `firestore:"name"`
	Status     string     `firestore:"status"`
	Info       string     `firestore:"info"`
	LastUpdate *time.Time `firestore:"lastUpdate"`
}

// FromFields builds a Region from a decoded document body.
func FromFields(id string, f Fields) Region {
	return Region{
		ID:         id,
		Name:       f.Name,
		Status:     NormalizeStatus(f.Status),
		Info:       f.Info,
		LastUpdate: f.LastUpdate,
	}
}
