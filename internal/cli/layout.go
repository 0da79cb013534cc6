package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"calgrid/internal/dayview"
	"calgrid/internal/ics"
	"calgrid/internal/layout"
	"calgrid/internal/model"
)

var (
	layoutEvents string
	layoutICS    string
	layoutDate   string
	layoutTZ     string
	layoutJSON   bool
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Print the column layout of one day",
	Long: "layout reads events from a YAML list (--events) or an .ics file (--ics)\n" +
		"and prints the column each event is placed in for the given day.",
	Example: "  calgrid layout --events day.yaml --date 2025-03-10 --tz Asia/Seoul",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (layoutEvents == "") == (layoutICS == "") {
			return errors.New("exactly one of --events or --ics is required")
		}

		loc, err := time.LoadLocation(layoutTZ)
		if err != nil {
			return fmt.Errorf("invalid --tz %q: %w", layoutTZ, err)
		}
		day := time.Now().In(loc)
		if layoutDate != "" {
			day, err = time.ParseInLocation("2006-01-02", layoutDate, loc)
			if err != nil {
				return fmt.Errorf("invalid --date %q: %w", layoutDate, err)
			}
		}

		var events []model.Event
		if layoutEvents != "" {
			events, err = readEventsFile(layoutEvents, loc)
		} else {
			events, err = readICSFile(layoutICS, day, loc)
		}
		if err != nil {
			return err
		}

		built := dayview.Build(events, day, loc, layout.DefaultMetrics())
		return printLayout(cmd.OutOrStdout(), built, layoutJSON)
	},
}

func init() {
	layoutCmd.Flags().StringVar(&layoutEvents, "events", "", "YAML file with a list of events")
	layoutCmd.Flags().StringVar(&layoutICS, "ics", "", "iCalendar file to import")
	layoutCmd.Flags().StringVar(&layoutDate, "date", "", "day to lay out, YYYY-MM-DD (default today)")
	layoutCmd.Flags().StringVar(&layoutTZ, "tz", "UTC", "IANA timezone whose midnights delimit the day")
	layoutCmd.Flags().BoolVar(&layoutJSON, "json", false, "print JSON instead of a table")
}

// eventRecord is one entry of an --events file. Times are RFC 3339, or
// "2006-01-02 15:04" interpreted in --tz.
type eventRecord struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Color    string `yaml:"color"`
	Category string `yaml:"category"`
}

var recordTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func parseRecordTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, l := range recordTimeLayouts {
		if t, err := time.ParseInLocation(l, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

func readEventsFile(path string, loc *time.Location) ([]model.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeEvents(f, loc)
}

// decodeEvents validates every record the way the store does. Records
// without an id are numbered in file order; ids must be unique, including
// the generated ones.
func decodeEvents(r io.Reader, loc *time.Location) ([]model.Event, error) {
	var records []eventRecord
	if err := yaml.NewDecoder(r).Decode(&records); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	events := make([]model.Event, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i, rec := range records {
		start, err := parseRecordTime(rec.Start, loc)
		if err != nil {
			return nil, fmt.Errorf("event %d: start: %w", i+1, err)
		}
		end, err := parseRecordTime(rec.End, loc)
		if err != nil {
			return nil, fmt.Errorf("event %d: end: %w", i+1, err)
		}

		in := model.EventInput{
			Title:    rec.Title,
			Start:    start,
			End:      end,
			Color:    rec.Color,
			Category: model.Category(strings.ToLower(rec.Category)),
		}
		in.Normalize()
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i+1, err)
		}

		id := rec.ID
		if id == "" {
			id = "e" + strconv.Itoa(i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("event %d: duplicate id %q", i+1, id)
		}
		seen[id] = true
		events = append(events, model.Event{
			ID:       id,
			Title:    in.Title,
			Start:    in.Start,
			End:      in.End,
			Color:    in.Color,
			Category: in.Category,
		})
	}
	return events, nil
}

func readICSFile(path string, day time.Time, loc *time.Location) ([]model.Event, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parsed, err := ics.ParseICS(ics.Source{ID: "file"}, body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	start, end := dayview.Bounds(day, loc)
	res, err := ics.ExpandEvents(parsed, ics.ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

func printLayout(w io.Writer, d dayview.Day, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	fmt.Fprintf(w, "%s (%d events)\n", d.Date.Format("Mon 2006-01-02"), len(d.Placements))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tCOLUMN\tTITLE")
	for _, p := range d.Placements {
		fmt.Fprintf(tw, "%s\t%s-%s\t%d/%d\t%s\n",
			p.Event.ID,
			p.Event.Start.In(d.Start.Location()).Format("15:04"),
			p.Event.End.In(d.Start.Location()).Format("15:04"),
			p.Assignment.Column, p.Assignment.TotalColumns,
			p.Event.Title,
		)
	}
	return tw.Flush()
}
