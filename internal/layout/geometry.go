package layout

import "time"

// Default vertical scale: one pixel per minute, never shorter than half an
// hour on screen.
const (
	DefaultHourHeight = 60.0
	DefaultMinHeight  = 30.0
)

// Fractions converts an assignment into horizontal placement within a day
// column: left offset and width, both as fractions of the column width.
// An assignment whose column lies past TotalColumns is widened to
// Column+1 columns so the box stays inside the day.
func Fractions(a Assignment) (left, width float64) {
	if a.TotalColumns <= 0 && a.Column <= 0 {
		return 0, 1
	}
	total := float64(max(a.TotalColumns, a.Column+1))
	return float64(a.Column) / total, 1 / total
}

// Metrics controls vertical placement.
type Metrics struct {
	HourHeight float64
	MinHeight  float64
}

// DefaultMetrics returns the default vertical scale.
func DefaultMetrics() Metrics {
	return Metrics{HourHeight: DefaultHourHeight, MinHeight: DefaultMinHeight}
}

// Vertical returns top offset and height for an event drawn on the day that
// starts at dayStart (local midnight). Portions of the event outside
// [dayStart, dayEnd) are clipped. The height is raised to MinHeight but the
// box is never pushed past the bottom of the day.
func (m Metrics) Vertical(start, end, dayStart, dayEnd time.Time) (top, height float64) {
	if m.HourHeight <= 0 {
		m.HourHeight = DefaultHourHeight
	}

	if start.Before(dayStart) {
		start = dayStart
	}
	if end.After(dayEnd) {
		end = dayEnd
	}

	perMinute := m.HourHeight / 60
	top = start.Sub(dayStart).Minutes() * perMinute
	height = end.Sub(start).Minutes() * perMinute
	if height < 0 {
		height = 0
	}

	if height < m.MinHeight {
		height = m.MinHeight
		bottom := dayEnd.Sub(dayStart).Minutes() * perMinute
		if top+height > bottom {
			top = bottom - height
			if top < 0 {
				top = 0
			}
		}
	}
	return top, height
}
