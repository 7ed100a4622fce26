package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/kilianp07/tankwatch/app"
	"github.com/kilianp07/tankwatch/core/alert"
	"github.com/kilianp07/tankwatch/core/forecast"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/core/query"
	"github.com/kilianp07/tankwatch/pkg/export"
)

var exportOpts struct {
	from, to    string
	granularity string
	format      string
	out         string
}

var exportCmd = &cobra.Command{
	Use:   "export <tank-id>",
	Short: "Export tank history as JSON or CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportOpts.from, "from", "", "range start (RFC3339)")
	f.StringVar(&exportOpts.to, "to", "", "range end, exclusive (RFC3339)")
	f.StringVar(&exportOpts.granularity, "granularity", string(model.GranularityHourly), "raw, hourly or daily")
	f.StringVar(&exportOpts.format, "format", export.FormatCSV, "json or csv")
	f.StringVarP(&exportOpts.out, "out", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	g, err := model.ParseGranularity(exportOpts.granularity)
	if err != nil {
		return err
	}
	var rng model.TimeRange
	if rng.From, err = parseOptionalTime(exportOpts.from); err != nil {
		return err
	}
	if rng.To, err = parseOptionalTime(exportOpts.to); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	clock := clockwork.NewRealClock()
	st, release, err := app.OpenStore(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer release()

	q := query.NewService(st, forecast.NewEngine(cfg.Forecast.Core(), st, clock), alert.NewEngine(cfg.Alerts.Core(), nil, clock, nil), 0)
	series, err := q.History(ctx, args[0], rng, g)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if exportOpts.out != "" {
		f, err := os.Create(exportOpts.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return export.Write(w, exportOpts.format, series)
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t, nil
}
