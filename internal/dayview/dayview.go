// Package dayview turns the flat event list into per-day placements that a
// renderer can draw directly.
package dayview

import (
	"time"

	"calgrid/internal/layout"
	"calgrid/internal/model"
)

// Placement is one event positioned inside a day column. Top and Height are
// in pixels per layout.Metrics; Left and Width are fractions of the column.
type Placement struct {
	Event      model.Event       `json:"event"`
	Assignment layout.Assignment `json:"assignment"`

	Top    float64 `json:"top"`
	Height float64 `json:"height"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`

	// ContinuesBefore/After mark events clipped at the day boundaries.
	ContinuesBefore bool `json:"continues_before"`
	ContinuesAfter  bool `json:"continues_after"`

	// Overlaps lists the IDs of same-day events that share time with this one.
	Overlaps []string `json:"overlaps,omitempty"`
}

// Day is the layout of a single local calendar day.
type Day struct {
	Date       time.Time   `json:"date"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	Placements []Placement `json:"placements"`
}

// Bounds returns local midnight of the day containing t and the following
// midnight. DST transitions make the span 23 or 25 hours.
func Bounds(t time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
	return start, end
}

// Bucket returns the events whose [Start, End) intersects the local day
// containing day, in their original order.
func Bucket(events []model.Event, day time.Time, loc *time.Location) []model.Event {
	start, end := Bounds(day, loc)

	out := make([]model.Event, 0)
	for _, ev := range events {
		if intersects(ev, start, end) {
			out = append(out, ev)
		}
	}
	return out
}

func intersects(ev model.Event, start, end time.Time) bool {
	if !ev.End.After(ev.Start) {
		// Degenerate events belong to the day their start falls in.
		return !ev.Start.Before(start) && ev.Start.Before(end)
	}
	return ev.Start.Before(end) && ev.End.After(start)
}

// Build buckets events for day and positions them. Events must already be
// valid (Start < End).
func Build(events []model.Event, day time.Time, loc *time.Location, m layout.Metrics) Day {
	start, end := Bounds(day, loc)
	bucket := Bucket(events, day, loc)
	model.SortByStart(bucket)

	spans := layout.FromEvents(bucket)
	cols := layout.AssignColumns(spans)

	out := Day{
		Date:       start,
		Start:      start,
		End:        end,
		Placements: make([]Placement, 0, len(bucket)),
	}
	for i, ev := range bucket {
		a, ok := cols[ev.ID]
		if !ok {
			a = layout.Assignment{Column: 0, TotalColumns: 1}
		}
		left, width := layout.Fractions(a)
		top, height := m.Vertical(ev.Start, ev.End, start, end)

		out.Placements = append(out.Placements, Placement{
			Event:           ev,
			Assignment:      a,
			Top:             top,
			Height:          height,
			Left:            left,
			Width:           width,
			ContinuesBefore: ev.Start.Before(start),
			ContinuesAfter:  ev.End.After(end),
			Overlaps:        overlapIDs(spans[i], spans),
		})
	}
	return out
}

func overlapIDs(target layout.Span, spans []layout.Span) []string {
	var ids []string
	for _, s := range layout.Overlapping(target, spans) {
		ids = append(ids, s.ID)
	}
	return ids
}

// Range returns n consecutive local midnights starting with the day that
// contains from.
func Range(from time.Time, n int, loc *time.Location) []time.Time {
	if n <= 0 {
		return nil
	}
	start, _ := Bounds(from, loc)
	days := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, time.Date(start.Year(), start.Month(), start.Day()+i, 0, 0, 0, 0, start.Location()))
	}
	return days
}

// BuildRange lays out n consecutive days.
func BuildRange(events []model.Event, from time.Time, n int, loc *time.Location, m layout.Metrics) []Day {
	days := Range(from, n, loc)
	out := make([]Day, 0, len(days))
	for _, d := range days {
		out = append(out, Build(events, d, loc, m))
	}
	return out
}
