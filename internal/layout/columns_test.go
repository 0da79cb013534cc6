package layout

import (
	"fmt"
	"math/rand/v2"
	"reflect"
	"testing"
	"time"
)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func span(id, from, to string) Span {
	return Span{ID: id, Start: clock(from), End: clock(to)}
}

func clock(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
}

func TestAssignColumnsScenarios(t *testing.T) {
	tests := []struct {
		name  string
		spans []Span
		want  map[string]Assignment
	}{
		{
			name:  "empty",
			spans: nil,
			want:  map[string]Assignment{},
		},
		{
			name:  "single event",
			spans: []Span{span("a", "09:00", "10:00")},
			want:  map[string]Assignment{"a": {0, 1}},
		},
		{
			name: "touching intervals do not overlap",
			spans: []Span{
				span("a", "09:00", "10:00"),
				span("b", "10:00", "11:00"),
			},
			want: map[string]Assignment{"a": {0, 1}, "b": {0, 1}},
		},
		{
			name: "no overlaps",
			spans: []Span{
				span("c", "13:00", "14:00"),
				span("a", "08:00", "09:00"),
				span("b", "10:00", "12:00"),
			},
			want: map[string]Assignment{"a": {0, 1}, "b": {0, 1}, "c": {0, 1}},
		},
		{
			name: "triple overlap bridged by middle event",
			spans: []Span{
				span("C", "10:00", "11:30"),
				span("A", "09:00", "10:00"),
				span("B", "09:30", "11:00"),
			},
			want: map[string]Assignment{"A": {0, 2}, "B": {1, 2}, "C": {0, 2}},
		},
		{
			name: "all mutually overlapping",
			spans: []Span{
				span("a", "09:00", "12:00"),
				span("b", "09:15", "11:00"),
				span("c", "09:30", "10:30"),
				span("d", "09:45", "10:00"),
			},
			want: map[string]Assignment{"a": {0, 4}, "b": {1, 4}, "c": {2, 4}, "d": {3, 4}},
		},
		{
			name: "freed column is reused first-fit",
			spans: []Span{
				span("a", "09:00", "12:00"),
				span("b", "09:00", "10:00"),
				span("c", "09:30", "12:00"),
				span("d", "10:00", "11:00"),
			},
			want: map[string]Assignment{"a": {0, 3}, "b": {1, 3}, "c": {2, 3}, "d": {1, 3}},
		},
		{
			name: "late total update follows the open set size",
			spans: []Span{
				span("a", "09:00", "10:00"),
				span("b", "09:00", "10:00"),
				span("c", "09:00", "12:00"),
				span("d", "11:00", "11:30"),
			},
			want: map[string]Assignment{"a": {0, 3}, "b": {1, 3}, "c": {2, 2}, "d": {0, 2}},
		},
		{
			name: "equal starts are ordered by id",
			spans: []Span{
				span("z", "09:00", "10:00"),
				span("m", "09:00", "10:00"),
				span("a", "09:00", "10:00"),
			},
			want: map[string]Assignment{"a": {0, 3}, "m": {1, 3}, "z": {2, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssignColumns(tt.spans)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("AssignColumns() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAssignColumnsDoesNotMutateInput(t *testing.T) {
	spans := []Span{
		span("b", "10:00", "11:00"),
		span("a", "09:00", "10:30"),
	}
	before := append([]Span(nil), spans...)

	AssignColumns(spans)

	if !reflect.DeepEqual(spans, before) {
		t.Fatalf("input reordered: %v", spans)
	}
}

func TestAssignColumnsIdempotentAndOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	spans := randomSpans(rng, 40)

	first := AssignColumns(spans)
	second := AssignColumns(spans)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated calls differ")
	}

	shuffled := append([]Span(nil), spans...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if got := AssignColumns(shuffled); !reflect.DeepEqual(first, got) {
		t.Fatalf("result depends on input order")
	}
}

func TestAssignColumnsProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))

	for round := 0; round < 200; round++ {
		spans := randomSpans(rng, 1+rng.IntN(25))
		got := AssignColumns(spans)

		if len(got) != len(spans) {
			t.Fatalf("round %d: %d assignments for %d spans", round, len(got), len(spans))
		}

		for i, a := range spans {
			ga := got[a.ID]
			if ga.Column < 0 || ga.TotalColumns < 1 {
				t.Fatalf("round %d: %s has column %d of %d", round, a.ID, ga.Column, ga.TotalColumns)
			}
			for _, b := range spans[i+1:] {
				if Overlaps(a, b) && ga.Column == got[b.ID].Column {
					t.Fatalf("round %d: overlapping %s and %s share column %d", round, a.ID, b.ID, ga.Column)
				}
			}
		}

		for _, cluster := range clusters(spans) {
			maxCol := 0
			for _, s := range cluster {
				maxCol = max(maxCol, got[s.ID].Column)
			}
			if want := maxOverlap(cluster); maxCol+1 != want {
				t.Fatalf("round %d: cluster uses %d columns, max overlap is %d", round, maxCol+1, want)
			}
		}
	}
}

func TestOverlapping(t *testing.T) {
	target := span("t", "10:00", "11:00")
	spans := []Span{
		target,
		span("before", "09:00", "10:00"),
		span("inside", "10:15", "10:45"),
		span("straddle", "10:59", "12:00"),
		span("after", "11:00", "12:00"),
	}

	got := Overlapping(target, spans)
	if len(got) != 2 || got[0].ID != "inside" || got[1].ID != "straddle" {
		t.Fatalf("Overlapping() = %v", got)
	}
}

// randomSpans builds spans on a 15-minute grid so equal starts and touching
// ends are common.
func randomSpans(rng *rand.Rand, n int) []Span {
	spans := make([]Span, 0, n)
	for i := 0; i < n; i++ {
		startSlot := rng.IntN(40)
		length := 1 + rng.IntN(12)
		spans = append(spans, Span{
			ID:    fmt.Sprintf("ev-%02d", i),
			Start: day.Add(time.Duration(startSlot) * 15 * time.Minute),
			End:   day.Add(time.Duration(startSlot+length) * 15 * time.Minute),
		})
	}
	return spans
}

// clusters groups spans connected by transitive overlap.
func clusters(spans []Span) [][]Span {
	parent := make([]int, len(spans))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			i = parent[i]
		}
		return i
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			if Overlaps(spans[i], spans[j]) {
				parent[find(i)] = find(j)
			}
		}
	}

	groups := make(map[int][]Span)
	for i, s := range spans {
		root := find(i)
		groups[root] = append(groups[root], s)
	}
	out := make([][]Span, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	return out
}

// maxOverlap counts the largest number of spans open at any one start instant.
func maxOverlap(spans []Span) int {
	best := 0
	for _, s := range spans {
		n := 0
		for _, o := range spans {
			if !o.Start.After(s.Start) && o.End.After(s.Start) {
				n++
			}
		}
		best = max(best, n)
	}
	return best
}
