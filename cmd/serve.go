package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/tankwatch/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ingestion, alerting and the query API",
	RunE:  serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer svc.Close()
	return svc.Run(ctx)
}
