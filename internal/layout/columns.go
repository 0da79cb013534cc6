// Package layout places time-overlapping events of a single day into
// side-by-side columns.
package layout

import (
	"slices"
	"strings"
	"time"

	"calgrid/internal/model"
)

// Span is the part of an event the column assigner looks at. Intervals are
// half-open: [Start, End).
type Span struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Assignment is the horizontal slot of one event. Column is zero-based.
// TotalColumns is the size of the open set the last time the event was part
// of it, so a late-evicted event can end up with Column >= TotalColumns; see
// Fractions.
type Assignment struct {
	Column       int `json:"column"`
	TotalColumns int `json:"total_columns"`
}

// FromEvents converts store events into spans.
func FromEvents(events []model.Event) []Span {
	spans := make([]Span, 0, len(events))
	for _, ev := range events {
		spans = append(spans, Span{ID: ev.ID, Start: ev.Start, End: ev.End})
	}
	return spans
}

// Overlaps reports whether two half-open spans share any instant.
func Overlaps(a, b Span) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Overlapping returns every span other than target that overlaps it.
func Overlapping(target Span, spans []Span) []Span {
	var out []Span
	for _, s := range spans {
		if s.ID == target.ID {
			continue
		}
		if Overlaps(target, s) {
			out = append(out, s)
		}
	}
	return out
}

// AssignColumns gives every span a column such that overlapping spans never
// share one. Spans are swept in start order (ties broken by ID) and each
// takes the lowest column not held by a still-open span. Whenever a span
// joins the open set, every open span's TotalColumns is set to the size of
// that set, keeping its Column.
//
// Spans must satisfy Start < End and have unique IDs. The input slice is not
// modified.
func AssignColumns(spans []Span) map[string]Assignment {
	out := make(map[string]Assignment, len(spans))
	if len(spans) == 0 {
		return out
	}

	sorted := slices.Clone(spans)
	slices.SortFunc(sorted, func(a, b Span) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	active := make([]Span, 0, 8)
	for _, s := range sorted {
		// Spans ending exactly at s.Start do not overlap it.
		open := active[:0]
		for _, a := range active {
			if a.End.After(s.Start) {
				open = append(open, a)
			}
		}
		active = open

		used := make(map[int]bool, len(active))
		for _, a := range active {
			used[out[a.ID].Column] = true
		}
		column := 0
		for used[column] {
			column++
		}

		active = append(active, s)
		total := len(active)
		for _, a := range active {
			prev, ok := out[a.ID]
			if !ok {
				out[a.ID] = Assignment{Column: column, TotalColumns: total}
				continue
			}
			out[a.ID] = Assignment{Column: prev.Column, TotalColumns: total}
		}
	}

	return out
}
