package model

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when an event ID is not present in the store.
var ErrNotFound = errors.New("event not found")

// Category groups events for coloring and filtering in the UI.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryMeeting  Category = "meeting"
	CategoryReminder Category = "reminder"
	CategoryOther    Category = "other"
)

// CategoryOption pairs a category with its display label.
type CategoryOption struct {
	Value Category `json:"value"`
	Label string   `json:"label"`
}

// Categories returns the selectable categories in display order.
func Categories() []CategoryOption {
	return []CategoryOption{
		{Value: CategoryWork, Label: "Work"},
		{Value: CategoryPersonal, Label: "Personal"},
		{Value: CategoryMeeting, Label: "Meeting"},
		{Value: CategoryReminder, Label: "Reminder"},
		{Value: CategoryOther, Label: "Other"},
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, opt := range Categories() {
		if opt.Value == c {
			return true
		}
	}
	return false
}

// Palette is the default set of event colors.
var Palette = []string{
	"#0ea5e9", // blue
	"#8b5cf6", // purple
	"#ec4899", // pink
	"#f59e0b", // amber
	"#10b981", // green
	"#ef4444", // red
	"#6366f1", // indigo
	"#14b8a6", // teal
}

// DefaultColor is used when an event is created without a color.
const DefaultColor = "#0ea5e9"

// Event is a single concrete calendar entry, either created through the API
// or expanded from an ICS subscription.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Color       string    `json:"color"`
	Category    Category  `json:"category"`

	// SourceID is the ICS source the event came from; empty for events
	// created locally.
	SourceID string `json:"source_id,omitempty"`
	// UID is the iCalendar UID of the originating VEVENT, if any.
	UID string `json:"uid,omitempty"`
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// FormatDuration renders d rounded to minutes as "45m", "2h" or "1h 30m".
func FormatDuration(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dh", hours)
}

// SortByStart orders events by start time, then by ID.
func SortByStart(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
}

// EventInput is the payload for creating an event.
type EventInput struct {
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	Start       time.Time `json:"start" yaml:"start"`
	End         time.Time `json:"end" yaml:"end"`
	Color       string    `json:"color" yaml:"color"`
	Category    Category  `json:"category" yaml:"category"`
}

// EventPatch is a partial update; nil fields are left untouched.
type EventPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Color       *string    `json:"color,omitempty"`
	Category    *Category  `json:"category,omitempty"`
}

// Apply returns a copy of e with the non-nil patch fields applied.
func (p EventPatch) Apply(e Event) Event {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Start != nil {
		e.Start = *p.Start
	}
	if p.End != nil {
		e.End = *p.End
	}
	if p.Color != nil {
		e.Color = *p.Color
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	return e
}

// ValidationError collects per-field problems in an event payload.
type ValidationError struct {
	Fields map[string]string
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.Fields[k])
	}
	return "invalid event: " + strings.Join(parts, "; ")
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Normalize fills in default color and category.
func (in *EventInput) Normalize() {
	in.Title = strings.TrimSpace(in.Title)
	if in.Color == "" {
		in.Color = DefaultColor
	}
	if in.Category == "" {
		in.Category = CategoryOther
	}
}

// Validate checks the payload. The returned error, if any, is a
// *ValidationError.
func (in EventInput) Validate() error {
	return validate(in.Title, in.Start, in.End, in.Color, in.Category)
}

// Validate checks a stored event the same way an input is checked.
func (e Event) Validate() error {
	return validate(e.Title, e.Start, e.End, e.Color, e.Category)
}

func validate(title string, start, end time.Time, color string, cat Category) error {
	fields := make(map[string]string)

	if strings.TrimSpace(title) == "" {
		fields["title"] = "Title is required"
	}
	switch {
	case start.IsZero():
		fields["start"] = "Start is required"
	case end.IsZero():
		fields["end"] = "End is required"
	case !end.After(start):
		fields["end"] = "End date must be after start date"
	}
	if color != "" && !colorPattern.MatchString(color) {
		fields["color"] = "Color must look like #rrggbb"
	}
	if cat != "" && !cat.Valid() {
		fields["category"] = "Unknown category"
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
