package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/kilianp07/tankwatch/app"
	"github.com/kilianp07/tankwatch/config"
	"github.com/kilianp07/tankwatch/core/alert"
	"github.com/kilianp07/tankwatch/core/ingest"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/infra/logger"
	"github.com/kilianp07/tankwatch/infra/mqtt"
	"github.com/kilianp07/tankwatch/infra/notify"
	"github.com/kilianp07/tankwatch/simulator"
)

var simOpts struct {
	tanks, stations int
	overMQTT        bool
	profileFile     string
	sim             simulator.Config
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Generate synthetic tank readings",
	Long: `Generate seeded tank sensor readings.

With --mqtt the readings are published on the configured reading topics in
real time. Otherwise the configured store is fed in process with readings
backdated so that the run ends now.`,
	RunE: simulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simOpts.tanks, "tanks", 10, "number of generated tanks when no tanks file is configured")
	f.IntVar(&simOpts.stations, "stations", 3, "number of stations the generated tanks belong to")
	f.BoolVar(&simOpts.overMQTT, "mqtt", false, "publish over MQTT instead of feeding the store")
	f.StringVar(&simOpts.profileFile, "profile-file", "", "hourly consumption profile JSON")
	f.Int64Var(&simOpts.sim.Seed, "seed", 1, "random seed")
	f.IntVar(&simOpts.sim.Steps, "steps", 96, "samples per tank, 0 runs until interrupted")
	f.DurationVar(&simOpts.sim.Interval, "interval", 15*time.Minute, "sample spacing")
	f.Float64Var(&simOpts.sim.ConsumptionLPH, "consumption", 40, "mean consumption in liters per hour")
	f.Float64Var(&simOpts.sim.NoiseCm, "noise", 0.3, "distance noise standard deviation in cm")
	f.Float64Var(&simOpts.sim.SpikeRate, "spike-rate", 0.01, "probability of an outlier sample")
	f.Float64Var(&simOpts.sim.DropRate, "drop-rate", 0.02, "probability of a missing sample")
	rootCmd.AddCommand(simulateCmd)
}

func simulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	simCfg := simOpts.sim
	if simOpts.profileFile != "" {
		data, err := os.ReadFile(simOpts.profileFile)
		if err != nil {
			return err
		}
		if simCfg.Profile, err = simulator.LoadProfile(data); err != nil {
			return fmt.Errorf("profile file: %w", err)
		}
	}
	geoms, err := simulatedTanks(cfg)
	if err != nil {
		return err
	}
	if simOpts.overMQTT {
		return simulateMQTT(ctx, cfg, simCfg, geoms)
	}
	return simulateInProcess(ctx, cfg, simCfg, geoms)
}

func simulatedTanks(cfg *config.Config) ([]model.TankGeometry, error) {
	if cfg.Persistence.TanksFile != "" {
		return config.LoadTanks(cfg.Persistence.TanksFile)
	}
	return simulator.GenerateFleet(simOpts.tanks, simOpts.stations, rand.New(rand.NewSource(simOpts.sim.Seed))), nil
}

func simulateMQTT(ctx context.Context, cfg *config.Config, simCfg simulator.Config, geoms []model.TankGeometry) error {
	cli, err := mqtt.NewPahoClient(cfg.MQTT.Config)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer cli.Disconnect()

	simCfg.Realtime = true
	sim, err := simulator.New(simCfg, geoms, simulator.MQTTEmitter{Publisher: cli, Config: cli.Config()}, nil)
	if err != nil {
		return err
	}
	_, err = sim.Run(ctx, time.Now())
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func simulateInProcess(ctx context.Context, cfg *config.Config, simCfg simulator.Config, geoms []model.TankGeometry) error {
	if simCfg.Steps == 0 {
		return fmt.Errorf("in-process simulation needs a bounded --steps")
	}
	clock := clockwork.NewRealClock()
	st, release, err := app.OpenStore(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer release()
	log := logger.New("simulate")
	for _, g := range geoms {
		if _, err := st.Geometry(g.TankID); err == nil {
			continue
		}
		if _, err := st.Provision(ctx, g); err != nil {
			log.Warnf("tank %s: %v", g.TankID, err)
		}
	}

	notifiers, err := alert.NewNotifier(cfg.Notifiers)
	if err != nil {
		return fmt.Errorf("notifiers: %w", err)
	}
	async := notify.Build(notifiers, 1024)
	defer async.Close()
	p := ingest.New(cfg.Store.Ingest(), st, alert.NewEngine(cfg.Alerts.Core(), async, clock, logger.New("alerts")), clock, logger.New("ingest"))
	defer p.Close()

	emit := &simulator.PipelineEmitter{Target: p}
	sim, err := simulator.New(simCfg, geoms, emit, clock)
	if err != nil {
		return err
	}
	start := clock.Now().Add(-time.Duration(simCfg.Steps) * simCfg.Interval)
	stats, err := sim.Run(ctx, start)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "emitted=%d rejected=%d dropped=%d refills=%d\n", stats.Emitted, emit.Rejected, stats.Dropped, stats.Refills)
	for _, s := range st.States("") {
		fmt.Fprintf(os.Stdout, "%-10s %-6s %6.1f%% %8.1f L/h %s\n", s.TankID, s.StationID, s.CurrentPercent, s.ConsumptionRatePerHour, s.Health)
	}
	return nil
}
