package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tankwatch/config"
	"github.com/kilianp07/tankwatch/core/factory"
	"github.com/kilianp07/tankwatch/core/model"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

const tanksYAML = `tanks:
  - tank_id: t1
    station_id: s1
    shape: cylindrical
    height_cm: 200
    radius_cm: 100
  - tank_id: broken
    station_id: s1
    shape: cylindrical
    height_cm: 100
`

func testConfig(t *testing.T, backend, tanks string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Persistence.Backend = backend
	cfg.Persistence.Path = filepath.Join(dir, "tanks.db")
	if tanks != "" {
		cfg.Persistence.TanksFile = filepath.Join(dir, "tanks.yaml")
		require.NoError(t, os.WriteFile(cfg.Persistence.TanksFile, []byte(tanks), 0o644))
	}
	return cfg
}

func TestOpenStoreProvisionsOnce(t *testing.T) {
	cfg := testConfig(t, "sqlite", tanksYAML)
	clk := clockwork.NewFakeClockAt(t0)
	ctx := context.Background()

	st, release, err := OpenStore(ctx, cfg, clk)
	require.NoError(t, err)
	g, err := st.Geometry("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, g.Version)
	_, err = st.Geometry("broken")
	var gerr *model.GeometryConfigError
	assert.ErrorAs(t, err, &gerr)
	release()

	// reopening with the same file keeps the version
	st, release, err = OpenStore(ctx, cfg, clk)
	require.NoError(t, err)
	g, err = st.Geometry("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, g.Version)
	release()

	// a changed entry recalibrates
	require.NoError(t, os.WriteFile(cfg.Persistence.TanksFile, []byte(`tanks:
  - tank_id: t1
    station_id: s1
    shape: cylindrical
    height_cm: 200
    radius_cm: 120
`), 0o644))
	st, release, err = OpenStore(ctx, cfg, clk)
	require.NoError(t, err)
	defer release()
	g, err = st.Geometry("t1")
	require.NoError(t, err)
	assert.Equal(t, 2, g.Version)
	assert.Equal(t, 120.0, g.RadiusCm)
}

func TestSameGeometry(t *testing.T) {
	a := model.TankGeometry{TankID: "t1", Shape: model.ShapeCylindrical, HeightCm: 200, RadiusCm: 100, Version: 3, CreatedAt: t0}
	b := a
	b.Version, b.CreatedAt = 1, time.Time{}
	assert.True(t, sameGeometry(a, b))
	b.Table = []model.CalibrationPoint{}
	assert.True(t, sameGeometry(a, b))
	b.StationID = "s2"
	assert.False(t, sameGeometry(a, b))
}

func TestServiceServesReadings(t *testing.T) {
	cfg := testConfig(t, "memory", tanksYAML)
	clk := clockwork.NewFakeClockAt(t0)
	svc, err := New(context.Background(), cfg, clk)
	require.NoError(t, err)
	defer svc.Close()

	body, err := json.Marshal(model.ReadingInput{TankID: "t1", RawDistanceCm: 100, CapturedAt: t0})
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	svc.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/readings", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	st, err := svc.Query.CurrentState("t1")
	require.NoError(t, err)
	assert.InDelta(t, 50, st.CurrentPercent, 0.01)

	rr = httptest.NewRecorder()
	svc.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stations/s1/tanks", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var states []model.TankState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &states))
	assert.Len(t, states, 2)
}

func TestNewRejectsUnknownNotifier(t *testing.T) {
	cfg := testConfig(t, "memory", "")
	cfg.Notifiers = []factory.ModuleConfig{{Type: "pager"}}
	_, err := New(context.Background(), cfg, clockwork.NewFakeClockAt(t0))
	assert.Error(t, err)
}
