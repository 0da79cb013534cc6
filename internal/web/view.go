package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"regexp"
	"time"

	"calgrid/internal/dayview"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var dayTemplate = template.Must(template.New("day.html").Funcs(template.FuncMap{
	"clock":    func(t time.Time) string { return t.Format("15:04") },
	"duration": func(e model.Event) string { return model.FormatDuration(e.Duration()) },
}).ParseFS(templateFS, "templates/day.html"))

var safeColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type hourLine struct {
	Label string
	Top   float64
}

type eventBox struct {
	Placement dayview.Placement
	Style     template.CSS
}

type dayPage struct {
	Date       string
	Title      string
	Prev       string
	Next       string
	Timezone   string
	Height     float64
	Hours      []hourLine
	Events     []eventBox
	EventCount int
}

// handleDayView renders one day as absolutely positioned boxes. The page is
// also the capture target, so it marks itself data-ready once rendered.
func (s *Server) handleDayView(w http.ResponseWriter, r *http.Request) {
	day, err := s.parseDate(r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	built := dayview.Build(s.store.List(), day, s.loc, s.metrics)
	page := s.dayPage(built)

	var buf bytes.Buffer
	if err := dayTemplate.Execute(&buf, page); err != nil {
		appLog.Error("day view render failed", err, "date", page.Date)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) dayPage(d dayview.Day) dayPage {
	hourHeight := s.metrics.HourHeight
	hours := int(d.End.Sub(d.Start).Round(time.Hour) / time.Hour)

	page := dayPage{
		Date:       d.Date.Format(dateLayout),
		Title:      d.Date.Format("Monday, January 2, 2006"),
		Prev:       d.Date.AddDate(0, 0, -1).Format(dateLayout),
		Next:       d.Date.AddDate(0, 0, 1).Format(dateLayout),
		Timezone:   s.loc.String(),
		Height:     float64(hours) * hourHeight,
		EventCount: len(d.Placements),
	}
	for h := 0; h < hours; h++ {
		page.Hours = append(page.Hours, hourLine{
			Label: d.Start.Add(time.Duration(h) * time.Hour).Format("15:04"),
			Top:   float64(h) * hourHeight,
		})
	}
	for _, p := range d.Placements {
		page.Events = append(page.Events, eventBox{Placement: p, Style: boxStyle(p)})
	}
	return page
}

func boxStyle(p dayview.Placement) template.CSS {
	color := p.Event.Color
	if !safeColor.MatchString(color) {
		color = model.DefaultColor
	}
	return template.CSS(fmt.Sprintf(
		"top:%.2fpx;height:%.2fpx;left:%.4f%%;width:%.4f%%;background:%s",
		p.Top, p.Height, p.Left*100, p.Width*100, color,
	))
}
