// Package refresh periodically re-imports ICS subscriptions into the store.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calgrid/internal/config"
	"calgrid/internal/ics"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// Sink receives the events of one source, replacing whatever that source
// contributed before. *store.Store satisfies it.
type Sink interface {
	ReplaceSource(sourceID string, events []model.Event) int
}

// Summary reports the outcome of one refresh run.
type Summary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Sources   int           `json:"sources"`
	Imported  int           `json:"imported"`
	Skipped   int           `json:"skipped"`
	Failed    []string      `json:"failed,omitempty"`
	Truncated []string      `json:"truncated,omitempty"`
}

// Refresher runs fetch -> parse -> expand -> store for every configured
// source. Runs are serialized.
type Refresher struct {
	cfg     *config.Config
	fetcher *ics.Fetcher
	sink    Sink
	loc     *time.Location
	now     func() time.Time

	// AfterRun, if set, is called after every scheduled run.
	AfterRun func(ctx context.Context, s Summary)

	runMu sync.Mutex
	mu    sync.RWMutex
	last  *Summary
}

// New constructs a Refresher. loc delimits days for the expansion window.
func New(cfg *config.Config, fetcher *ics.Fetcher, sink Sink, loc *time.Location) *Refresher {
	if loc == nil {
		loc = time.Local
	}
	return &Refresher{
		cfg:     cfg,
		fetcher: fetcher,
		sink:    sink,
		loc:     loc,
		now:     time.Now,
	}
}

// Sources converts the configured subscriptions, skipping ones without URL.
func Sources(cfg *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		if c.URL == "" {
			continue
		}
		out = append(out, ics.Source{ID: c.SourceID(), URL: c.URL, Color: c.Color})
	}
	return out
}

// RunOnce performs one refresh. A source that fails to fetch or parse keeps
// the events it had before; the error for it is joined into the result.
func (r *Refresher) RunOnce(ctx context.Context) (Summary, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	started := r.now()
	sum := Summary{StartedAt: started}
	sources := Sources(r.cfg)
	sum.Sources = len(sources)

	results, fetchErr := r.fetcher.FetchAll(ctx, sources)
	errs := []error{fetchErr}

	fetched := make(map[string]bool, len(results))
	for _, res := range results {
		fetched[res.Source.ID] = true
	}
	for _, src := range sources {
		if !fetched[src.ID] {
			sum.Failed = append(sum.Failed, src.ID)
		}
	}

	today := time.Date(started.In(r.loc).Year(), started.In(r.loc).Month(), started.In(r.loc).Day(), 0, 0, 0, 0, r.loc)
	window := ics.ExpandConfig{
		DisplayLocation: r.loc,
		RangeStart:      today.AddDate(0, 0, -r.cfg.BackfillDays),
		RangeEnd:        today.AddDate(0, 0, r.cfg.HorizonDays+1),
	}

	for _, res := range results {
		parsed, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			appLog.Error("refresh: parse failed", err, "id", res.Source.ID)
			sum.Failed = append(sum.Failed, res.Source.ID)
			errs = append(errs, fmt.Errorf("parse %s: %w", res.Source.ID, err))
			continue
		}

		expanded, err := ics.ExpandEvents(parsed, window)
		if err != nil {
			sum.Failed = append(sum.Failed, res.Source.ID)
			errs = append(errs, fmt.Errorf("expand %s: %w", res.Source.ID, err))
			continue
		}

		skipped := r.sink.ReplaceSource(res.Source.ID, expanded.Events)
		sum.Imported += len(expanded.Events) - skipped
		sum.Skipped += skipped
		sum.Truncated = append(sum.Truncated, expanded.TruncatedSummary()...)
	}

	sum.Duration = r.now().Sub(started)
	r.mu.Lock()
	r.last = &sum
	r.mu.Unlock()

	appLog.Info("refresh completed",
		"sources", sum.Sources,
		"imported", sum.Imported,
		"skipped", sum.Skipped,
		"failed", len(sum.Failed),
		"duration", sum.Duration,
	)
	return sum, errors.Join(errs...)
}

// Last returns the most recent run summary, if any.
func (r *Refresher) Last() (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

// Start runs RunOnce immediately and then on the configured cron schedule
// until ctx is cancelled. It returns once the schedule is installed.
func (r *Refresher) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(r.loc))
	job := func() {
		sum, err := r.RunOnce(ctx)
		if err != nil {
			appLog.Error("scheduled refresh had errors", err)
		}
		if r.AfterRun != nil {
			r.AfterRun(ctx, sum)
		}
	}

	if _, err := c.AddFunc(r.cfg.RefreshCron, job); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.cfg.RefreshCron, err)
	}

	c.Start()
	appLog.Info("refresh scheduler started", "schedule", r.cfg.RefreshCron, "timezone", r.loc.String())

	go job()
	go func() {
		<-ctx.Done()
		stopCtx := c.Stop()
		<-stopCtx.Done()
		appLog.Info("refresh scheduler stopped")
	}()
	return nil
}
