package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tankwatch/core/alert"
	"github.com/kilianp07/tankwatch/core/ingest"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/core/store"
	"github.com/kilianp07/tankwatch/infra/mqtt"
	"github.com/kilianp07/tankwatch/internal/testutil"
	"github.com/kilianp07/tankwatch/simulator"
)

func TestMosquittoIngestion_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker, cleanup, err := testutil.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	defer cleanup()

	geom := model.TankGeometry{TankID: "t1", StationID: "s1", Shape: model.ShapeCylindrical, HeightCm: 200, RadiusCm: 100}
	st := store.New(store.DefaultConfig(), store.NewMemoryRepository(), nil, nil)
	_, err = st.Provision(ctx, geom)
	require.NoError(t, err)
	p := ingest.New(ingest.Config{}, st, alert.NewEngine(alert.DefaultConfig(), nil, nil, nil), nil, nil)
	defer p.Close()

	sub, err := mqtt.NewPahoClient(mqtt.Config{Broker: broker, ClientID: "ingest"})
	require.NoError(t, err)
	defer sub.Disconnect()
	m := NewManager(Config{Prefix: sub.Config().ReadingPrefix, QoS: 1}, sub, p, nil)
	require.NoError(t, m.Start(ctx))

	pub, err := mqtt.NewPahoClient(mqtt.Config{Broker: broker, ClientID: "sensor", QoS: map[string]byte{"reading": 1}})
	require.NoError(t, err)
	defer pub.Disconnect()
	sim, err := simulator.New(simulator.Config{Seed: 1, Steps: 5, Interval: time.Minute},
		[]model.TankGeometry{geom}, simulator.MQTTEmitter{Publisher: pub, Config: pub.Config()}, nil)
	require.NoError(t, err)
	stats, err := sim.Run(ctx, time.Now().Add(-10*time.Minute).Truncate(time.Second))
	require.NoError(t, err)
	require.Equal(t, 5, stats.Emitted)

	require.Eventually(t, func() bool {
		s, err := st.State("t1")
		return err == nil && s.ReadingCount == 5
	}, 10*time.Second, 50*time.Millisecond)
	s, err := st.State("t1")
	require.NoError(t, err)
	assert.InDelta(t, sim.Tanks()[0].Liters(), s.CurrentVolumeLiters, 50)
}
