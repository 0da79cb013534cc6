package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"calgrid/internal/capture"
	"calgrid/internal/config"
	"calgrid/internal/ics"
	appLog "calgrid/internal/log"
	"calgrid/internal/refresh"
	"calgrid/internal/store"
	"calgrid/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the ICS refresh scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if serveListen != "" {
			cfg.Listen = serveListen
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config)")
}

func runServe(ctx context.Context, cfg *config.Config) error {
	appLog.Info("calgrid starting", "version", Version)
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"horizon_days", cfg.HorizonDays,
		"backfill_days", cfg.BackfillDays,
		"ics_count", len(cfg.ICS),
		"capture", cfg.Capture.Enabled,
	)

	st := store.New()
	loc := web.ResolveLocation(cfg.Timezone)

	var srv *web.Server
	if len(cfg.ICS) > 0 {
		r := refresh.New(cfg, ics.NewFetcher(cfg.CacheDir()), st, loc)
		if cfg.Capture.Enabled {
			r.AfterRun = func(ctx context.Context, _ refresh.Summary) {
				capturePreview(ctx, cfg)
			}
		}
		if err := r.Start(ctx); err != nil {
			return err
		}
		srv = web.NewServer(cfg, st, r)
	} else {
		appLog.Info("no ICS sources configured; serving local events only")
		srv = web.NewServer(cfg, st, nil)
	}

	err := web.StartServer(ctx, cfg, srv)
	appLog.Info("calgrid exiting")
	return err
}

// capturePreview renders today's day view to cfg.PreviewPath(). Failures are
// logged; the next refresh tries again.
func capturePreview(ctx context.Context, cfg *config.Config) {
	loc := web.ResolveLocation(cfg.Timezone)
	opts := capture.Options{
		URL:     dayURL(baseURL(cfg), time.Now().In(loc)),
		Width:   cfg.Capture.Width,
		Height:  cfg.Capture.Height,
		Timeout: time.Duration(cfg.Capture.TimeoutSeconds) * time.Second,
	}
	if err := capture.CaptureToFile(ctx, opts, cfg.PreviewPath()); err != nil {
		appLog.Error("preview capture failed", err, "url", opts.URL)
	}
}
