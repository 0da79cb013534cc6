package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"calgrid/internal/capture"
	"calgrid/internal/config"
	"calgrid/internal/web"
)

var (
	snapshotDate string
	snapshotURL  string
	snapshotOut  string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture a running server's day view as PNG",
	Long: "snapshot drives headless Chromium against the /day page of a running\n" +
		"calgrid server and writes a full-page PNG.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		loc := web.ResolveLocation(cfg.Timezone)
		day := time.Now().In(loc)
		if snapshotDate != "" {
			day, err = time.ParseInLocation("2006-01-02", snapshotDate, loc)
			if err != nil {
				return fmt.Errorf("invalid --date %q: %w", snapshotDate, err)
			}
		}

		base := snapshotURL
		if base == "" {
			base = baseURL(cfg)
		}
		out := snapshotOut
		if out == "" {
			out = cfg.PreviewPath()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := capture.Options{
			URL:     dayURL(base, day),
			Width:   cfg.Capture.Width,
			Height:  cfg.Capture.Height,
			Timeout: time.Duration(cfg.Capture.TimeoutSeconds) * time.Second,
		}
		if err := capture.CaptureToFile(ctx, opts, out); err != nil {
			return err
		}
		cmd.Printf("wrote %s\n", out)
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotDate, "date", "", "day to capture, YYYY-MM-DD (default today)")
	snapshotCmd.Flags().StringVar(&snapshotURL, "url", "", "server base URL (default http://<listen>)")
	snapshotCmd.Flags().StringVar(&snapshotOut, "out", "", "output PNG path (default <data_dir>/preview.png)")
}

// baseURL is where the local server can be reached. A wildcard listen host is
// replaced by loopback.
func baseURL(cfg *config.Config) string {
	addr := cfg.Listen
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	} else if strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "127.0.0.1" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	return "http://" + addr
}

func dayURL(base string, day time.Time) string {
	q := url.Values{"date": {day.Format("2006-01-02")}}
	return strings.TrimRight(base, "/") + "/day?" + q.Encode()
}
