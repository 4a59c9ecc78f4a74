package captions

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Entry is one timed caption. Times are in seconds from the start of the video.
type Entry struct {
	ID    string  `json:"id" yaml:"id"`
	Start float64 `json:"startTime" yaml:"start"`
	End   float64 `json:"endTime" yaml:"end"`
	Text  string  `json:"text" yaml:"text"`
}

// Duration returns End - Start
func (e Entry) Duration() float64 {
	return e.End - e.Start
}

// Contains reports whether t falls inside the entry, both ends inclusive
func (e Entry) Contains(t float64) bool {
	return e.Start <= t && t <= e.End
}

// Validate checks the timing invariants of an entry
func (e Entry) Validate() error {
	switch {
	case math.IsNaN(e.Start) || math.IsNaN(e.End):
		return fmt.Errorf("caption %q: timing is not a number", e.ID)
	case e.Start < 0:
		return fmt.Errorf("caption %q: start %.3f is negative", e.ID, e.Start)
	case e.End <= e.Start:
		return fmt.Errorf("caption %q: end %.3f must be after start %.3f", e.ID, e.End, e.Start)
	}
	return nil
}

// ValidateAll validates every entry and joins the failures
func ValidateAll(entries []Entry) error {
	var errs []error
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sorted returns a copy of entries ordered by start time. Entries that share a
// start time keep their relative order. The input is left untouched.
func Sorted(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})
	return out
}

// Resolve returns the caption active at t.
//
// The first entry in list order whose [Start, End] range contains t wins.
// Overlapping entries are never ranked by length or recency, so callers that
// want start-time precedence must pass a sorted list.
func Resolve(entries []Entry, t float64) (Entry, bool) {
	for _, e := range entries {
		if e.Contains(t) {
			return e, true
		}
	}
	return Entry{}, false
}

// Overlaps returns the index pairs of entries whose ranges intersect.
func Overlaps(entries []Entry) [][2]int {
	var pairs [][2]int
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]
			if a.Start <= b.End && b.Start <= a.End {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	}
	return pairs
}
