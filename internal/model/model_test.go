package model

import (
	"errors"
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		in        EventInput
		wantField []string
	}{
		{
			name: "valid",
			in:   EventInput{Title: "Standup", Start: at(9, 0), End: at(9, 15), Color: "#10b981", Category: CategoryMeeting},
		},
		{
			name:      "blank title",
			in:        EventInput{Title: "   ", Start: at(9, 0), End: at(10, 0)},
			wantField: []string{"title"},
		},
		{
			name:      "end before start",
			in:        EventInput{Title: "x", Start: at(10, 0), End: at(9, 0)},
			wantField: []string{"end"},
		},
		{
			name:      "zero length",
			in:        EventInput{Title: "x", Start: at(10, 0), End: at(10, 0)},
			wantField: []string{"end"},
		},
		{
			name:      "missing start",
			in:        EventInput{Title: "x", End: at(10, 0)},
			wantField: []string{"start"},
		},
		{
			name:      "bad color and category",
			in:        EventInput{Title: "x", Start: at(9, 0), End: at(10, 0), Color: "blue", Category: "party"},
			wantField: []string{"color", "category"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if len(tt.wantField) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if len(verr.Fields) != len(tt.wantField) {
				t.Fatalf("fields = %v, want keys %v", verr.Fields, tt.wantField)
			}
			for _, f := range tt.wantField {
				if _, ok := verr.Fields[f]; !ok {
					t.Fatalf("missing field %q in %v", f, verr.Fields)
				}
			}
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	in := EventInput{Title: "  Lunch  "}
	in.Normalize()
	if in.Title != "Lunch" {
		t.Fatalf("title not trimmed: %q", in.Title)
	}
	if in.Color != DefaultColor || in.Category != CategoryOther {
		t.Fatalf("defaults not applied: %+v", in)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		45 * time.Minute:             "45m",
		time.Hour:                    "1h",
		90 * time.Minute:             "1h 30m",
		26*time.Hour + 5*time.Minute: "26h 5m",
		29 * time.Second:             "0m",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%s) = %q, want %q", d, got, want)
		}
	}
}

func TestPatchApply(t *testing.T) {
	base := Event{ID: "a", Title: "Old", Start: at(9, 0), End: at(10, 0), Color: "#0ea5e9", Category: CategoryWork}
	title := "New"
	end := at(11, 0)

	got := EventPatch{Title: &title, End: &end}.Apply(base)
	if got.Title != "New" || !got.End.Equal(end) {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.Color != base.Color || got.Category != base.Category || !got.Start.Equal(base.Start) {
		t.Fatalf("untouched fields changed: %+v", got)
	}
	if base.Title != "Old" {
		t.Fatalf("Apply mutated its input")
	}
}

func TestSortByStart(t *testing.T) {
	events := []Event{
		{ID: "c", Start: at(10, 0)},
		{ID: "b", Start: at(9, 0)},
		{ID: "a", Start: at(9, 0)},
	}
	SortByStart(events)
	got := events[0].ID + events[1].ID + events[2].ID
	if got != "abc" {
		t.Fatalf("order = %s, want abc", got)
	}
}
