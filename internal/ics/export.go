package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"calgrid/internal/model"
)

// DefaultProdID identifies calgrid in exported calendars.
const DefaultProdID = "-//calgrid//calgrid//EN"

// WriteCalendar serializes events as a VCALENDAR. Events imported from a
// feed keep their original UID; locally created ones use their store ID.
func WriteCalendar(w io.Writer, events []model.Event, prodID string, now time.Time) error {
	if prodID == "" {
		prodID = DefaultProdID
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(prodID)

	for _, ev := range events {
		uid := ev.ID
		if ev.UID != "" {
			// Recurring feeds share one UID across instances; the instance
			// ID keeps each exported VEVENT unique.
			uid = ev.UID + "-" + ev.ID
		}

		ve := cal.AddEvent(uid)
		ve.SetDtStampTime(now.UTC())
		ve.SetStartAt(ev.Start.UTC())
		ve.SetEndAt(ev.End.UTC())
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Category != "" {
			ve.SetProperty("CATEGORIES", string(ev.Category))
		}
		if ev.Color != "" {
			ve.SetProperty("COLOR", ev.Color)
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
