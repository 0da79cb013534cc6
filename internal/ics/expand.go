package ics

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
	// defaultTimedDuration is used for timed VEVENTs without DTEND.
	defaultTimedDuration = 30 * time.Minute
	untitled             = "(no title)"
)

// occurrenceNamespace seeds deterministic event IDs so that re-importing a
// feed yields the same IDs and therefore the same column layout.
var occurrenceNamespace = uuid.MustParse("6f1d8a52-3c1e-4f7a-9b8e-2a6d5c4b3e10")

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is the zone occurrences are converted to. Nil means
	// time.Local.
	DisplayLocation *time.Location

	// [RangeStart, RangeEnd) is the window occurrences must intersect.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means the default.
	MaxOccurrencesPerEvent int
}

// ExpandResult is the expanded event list plus UIDs that hit the cap.
type ExpandResult struct {
	Events          []model.Event
	TruncatedEvents []string
}

// ExpandEvents turns parsed VEVENTs into concrete events inside the window:
// single events, RRULE recurrences, EXDATE removals and RECURRENCE-ID
// overrides. Output is sorted by start then ID.
func ExpandEvents(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if !cfg.RangeEnd.After(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd must be after RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	for _, uid := range uids {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseByUID[uid] {
			var occ []model.Event
			var hitCap bool
			if ev.RawRRule == "" {
				occ = expandSingle(ev, ov, cfg)
			} else {
				occ, hitCap = expandRecurring(ev, ov, cfg)
			}
			truncated = truncated || hitCap
			result.Events = append(result.Events, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	// Overrides whose base event is missing from the feed still describe a
	// real instance.
	for uid, ov := range overridesByUID {
		if _, ok := baseByUID[uid]; ok {
			continue
		}
		for _, o := range ov {
			result.Events = append(result.Events, expandSingle(o, nil, cfg)...)
		}
	}

	result.Events = dedupeByID(result.Events)
	model.SortByStart(result.Events)
	return result, nil
}

// dedupeByID keeps the first event for each ID. Feeds that repeat a
// UID+DTSTART pair across VEVENTs would otherwise yield two events sharing
// an ID, which the column assigner cannot tell apart.
func dedupeByID(events []model.Event) []model.Event {
	seen := make(map[string]struct{}, len(events))
	out := events[:0]
	for _, ev := range events {
		if _, dup := seen[ev.ID]; dup {
			appLog.Warn("expand: duplicate occurrence dropped", "uid", ev.UID, "start", ev.Start.Format(time.RFC3339))
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	return out
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Event {
	start, end := bounds(ev, ev.Start, cfg.DisplayLocation)
	instanceKey := start

	if o, ok := findOverride(overrides, ev.Start); ok {
		ev = o
		start, end = bounds(o, o.Start, cfg.DisplayLocation)
	}

	if !intersects(start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Event{toModel(ev, instanceKey, start, end)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event length so instances that began
	// before the window but still run into it are kept.
	length := duration(ev)
	from := cfg.RangeStart.Add(-length).In(ev.Start.Location())
	to := cfg.RangeEnd.In(ev.Start.Location())
	starts := set.Between(from, to, true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Event, 0, len(starts))
	for _, occStart := range starts {
		base := ev
		start, end := bounds(ev, occStart, cfg.DisplayLocation)
		instanceKey := start

		if o, ok := findOverride(overrides, occStart); ok {
			base = o
			start, end = bounds(o, o.Start, cfg.DisplayLocation)
		}
		if !intersects(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, toModel(base, instanceKey, start, end))
	}
	return out, hitCap
}

// bounds returns the [start, end) of an instance beginning at occStart,
// converted to loc. All-day instances cover whole local days of loc.
func bounds(ev ParsedEvent, occStart time.Time, loc *time.Location) (time.Time, time.Time) {
	if ev.AllDay {
		days := 1
		if !ev.End.IsZero() && ev.End.After(ev.Start) {
			days = int(ev.End.Sub(ev.Start).Round(24*time.Hour) / (24 * time.Hour))
			if days < 1 {
				days = 1
			}
		}
		start := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, loc)
		end := time.Date(occStart.Year(), occStart.Month(), occStart.Day()+days, 0, 0, 0, 0, loc)
		return start, end
	}
	return occStart.In(loc), occStart.Add(duration(ev)).In(loc)
}

func duration(ev ParsedEvent) time.Duration {
	if ev.End.After(ev.Start) {
		return ev.End.Sub(ev.Start)
	}
	if ev.AllDay {
		return 24 * time.Hour
	}
	return defaultTimedDuration
}

// findOverride returns the override whose RECURRENCE-ID equals occStart.
func findOverride(overrides []ParsedEvent, occStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(occStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func intersects(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func toModel(ev ParsedEvent, instanceKey, start, end time.Time) model.Event {
	title := strings.TrimSpace(ev.Summary)
	if title == "" {
		title = untitled
	}

	desc := ev.Description
	if ev.Location != "" {
		if desc != "" {
			desc += "\n"
		}
		desc += "Location: " + ev.Location
	}

	key := ev.Source.ID + "\x00" + ev.UID + "\x00" + instanceKey.UTC().Format(time.RFC3339Nano)

	return model.Event{
		ID:          uuid.NewSHA1(occurrenceNamespace, []byte(key)).String(),
		Title:       title,
		Description: desc,
		Start:       start,
		End:         end,
		Color:       pickColor(ev),
		Category:    pickCategory(ev.Categories),
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
	}
}

func pickColor(ev ParsedEvent) string {
	switch {
	case hexColor.MatchString(ev.Color):
		return strings.ToLower(ev.Color)
	case hexColor.MatchString(ev.Source.Color):
		return strings.ToLower(ev.Source.Color)
	default:
		return model.DefaultColor
	}
}

func pickCategory(categories []string) model.Category {
	for _, c := range categories {
		cat := model.Category(strings.ToLower(strings.TrimSpace(c)))
		if cat.Valid() {
			return cat
		}
	}
	return model.CategoryOther
}

// TruncatedSummary is a stable, sorted copy of the truncated UIDs for
// logging and API responses.
func (r ExpandResult) TruncatedSummary() []string {
	out := append([]string(nil), r.TruncatedEvents...)
	sort.Strings(out)
	return out
}
