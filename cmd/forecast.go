package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/kilianp07/tankwatch/app"
	"github.com/kilianp07/tankwatch/core/forecast"
	"github.com/kilianp07/tankwatch/core/model"
)

var forecastHorizon string

var forecastCmd = &cobra.Command{
	Use:   "forecast <tank-id>",
	Short: "Print the depletion forecast of a tank from persisted readings",
	Args:  cobra.ExactArgs(1),
	RunE:  runForecast,
}

func init() {
	forecastCmd.Flags().StringVar(&forecastHorizon, "horizon", string(model.HorizonWeek), "week, month or year")
	rootCmd.AddCommand(forecastCmd)
}

func runForecast(cmd *cobra.Command, args []string) error {
	h, err := model.ParseHorizon(forecastHorizon)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	clock := clockwork.NewRealClock()
	st, release, err := app.OpenStore(context.Background(), cfg, clock)
	if err != nil {
		return err
	}
	defer release()

	res, err := forecast.NewEngine(cfg.Forecast.Core(), st, clock).Forecast(args[0], h)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
