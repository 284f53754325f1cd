package validation

import (
	"fmt"
	"sort"
	"time"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
)

// POEType represents the type of proof of existence.
type POEType int

const (
	// POETypeTimestamp is a signature timestamp.
	POETypeTimestamp POEType = iota
	// POETypeArchiveTimestamp is an archive timestamp.
	POETypeArchiveTimestamp
)

func (t POEType) String() string {
	switch t {
	case POETypeTimestamp:
		return "timestamp"
	case POETypeArchiveTimestamp:
		return "archive_timestamp"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// ProofOfExistence is evidence that an object existed at a given time.
type ProofOfExistence struct {
	Time   time.Time
	Type   POEType
	Object string
	Source string
}

// POESet collects proofs of existence per object. It belongs to a single
// conclusion run and is not safe for concurrent use.
type POESet struct {
	poes map[string][]ProofOfExistence
}

// NewPOESet creates an empty set.
func NewPOESet() *POESet {
	return &POESet{poes: make(map[string][]ProofOfExistence)}
}

// Add records a proof of existence.
func (s *POESet) Add(poe ProofOfExistence) {
	list := append(s.poes[poe.Object], poe)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Time.Before(list[j].Time) })
	s.poes[poe.Object] = list
}

// Get returns the proofs for object, earliest first.
func (s *POESet) Get(object string) []ProofOfExistence {
	return append([]ProofOfExistence(nil), s.poes[object]...)
}

// Earliest returns the earliest proof for object.
func (s *POESet) Earliest(object string) (ProofOfExistence, bool) {
	list := s.poes[object]
	if len(list) == 0 {
		return ProofOfExistence{}, false
	}
	return list[0], true
}

// Before returns the earliest proof for object strictly before deadline.
func (s *POESet) Before(object string, deadline time.Time) (ProofOfExistence, bool) {
	if poe, ok := s.Earliest(object); ok && poe.Time.Before(deadline) {
		return poe, true
	}
	return ProofOfExistence{}, false
}

// signaturePOEs builds the proofs of existence of the signature from its
// qualified timestamps.
func signaturePOEs(ev *Evidence) *POESet {
	set := NewPOESet()
	add := func(list []certvalidator.TimestampStatus, typ POEType) {
		for _, ts := range list {
			if !ev.Qualified(ts) {
				continue
			}
			set.Add(ProofOfExistence{
				Time:   ts.Token.GenTime(),
				Type:   typ,
				Object: ev.SignatureID,
				Source: ts.Token.ID(),
			})
		}
	}
	add(ev.SignatureTimestamps, POETypeTimestamp)
	add(ev.ArchiveTimestamps, POETypeArchiveTimestamp)
	return set
}
