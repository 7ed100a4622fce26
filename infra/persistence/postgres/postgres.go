// Package postgres stores tank readings, geometries and rollups in
// PostgreSQL (or TimescaleDB) through a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/core/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS tank_readings (
    tank_id          TEXT             NOT NULL,
    captured_at      TIMESTAMPTZ      NOT NULL,
    received_at      TIMESTAMPTZ      NOT NULL,
    raw_distance_cm  DOUBLE PRECISION NOT NULL,
    distance_cm      DOUBLE PRECISION NOT NULL,
    volume_liters    DOUBLE PRECISION NOT NULL,
    quality          TEXT             NOT NULL,
    geometry_version INTEGER          NOT NULL,
    PRIMARY KEY (tank_id, captured_at)
);
CREATE TABLE IF NOT EXISTS tank_geometries (
    tank_id TEXT    NOT NULL,
    version INTEGER NOT NULL,
    record  JSONB   NOT NULL,
    PRIMARY KEY (tank_id, version)
);
CREATE TABLE IF NOT EXISTS tank_rollups (
    tank_id      TEXT             NOT NULL,
    start        TIMESTAMPTZ      NOT NULL,
    granularity  TEXT             NOT NULL,
    count        INTEGER          NOT NULL,
    min_liters   DOUBLE PRECISION NOT NULL,
    max_liters   DOUBLE PRECISION NOT NULL,
    avg_liters   DOUBLE PRECISION NOT NULL,
    first_liters DOUBLE PRECISION NOT NULL,
    last_liters  DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (tank_id, start)
);`

// Repository implements store.Repository on a pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

var _ store.Repository = (*Repository)(nil)

// Open connects to dsn, pings the server and ensures schema.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() { r.pool.Close() }

func (r *Repository) SaveReading(ctx context.Context, rd model.SensorReading) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tank_readings
			(tank_id, captured_at, received_at, raw_distance_cm, distance_cm, volume_liters, quality, geometry_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		rd.TankID, rd.CapturedAt, rd.ReceivedAt, rd.RawDistanceCm, rd.DistanceCm,
		rd.VolumeLiters, string(rd.Quality), rd.GeometryVersion)
	return err
}

var readingColumns = []string{
	"tank_id", "captured_at", "received_at", "raw_distance_cm", "distance_cm",
	"volume_liters", "quality", "geometry_version",
}

// Import bulk loads historical readings with COPY. It is meant for
// backfills into an empty range; conflicts abort the copy.
func (r *Repository) Import(ctx context.Context, readings []model.SensorReading) (int64, error) {
	if len(readings) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(readings))
	for i, rd := range readings {
		rows[i] = []any{rd.TankID, rd.CapturedAt, rd.ReceivedAt, rd.RawDistanceCm, rd.DistanceCm,
			rd.VolumeLiters, string(rd.Quality), rd.GeometryVersion}
	}
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"tank_readings"}, readingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("CopyFrom failed for batch of %d: %w", len(readings), err)
	}
	return n, nil
}

func (r *Repository) LoadHistory(ctx context.Context, tankID string, rng model.TimeRange) ([]model.SensorReading, error) {
	query, args := ranged(`
		SELECT captured_at, received_at, raw_distance_cm, distance_cm, volume_liters, quality, geometry_version
		FROM tank_readings WHERE tank_id = $1`, tankID, "captured_at", rng)
	rows, err := r.pool.Query(ctx, query+` ORDER BY captured_at`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SensorReading, error) {
		rd := model.SensorReading{TankID: tankID}
		var quality string
		err := row.Scan(&rd.CapturedAt, &rd.ReceivedAt, &rd.RawDistanceCm, &rd.DistanceCm, &rd.VolumeLiters, &quality, &rd.GeometryVersion)
		rd.CapturedAt, rd.ReceivedAt = rd.CapturedAt.UTC(), rd.ReceivedAt.UTC()
		rd.Quality = model.QualityFlag(quality)
		return rd, err
	})
}

func (r *Repository) SaveGeometry(ctx context.Context, g model.TankGeometry) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO tank_geometries (tank_id, version, record) VALUES ($1, $2, $3)
		ON CONFLICT (tank_id, version) DO UPDATE SET record = EXCLUDED.record`,
		g.TankID, g.Version, b)
	return err
}

func (r *Repository) LoadGeometry(ctx context.Context, tankID string) (model.TankGeometry, error) {
	var rec []byte
	err := r.pool.QueryRow(ctx, `
		SELECT record FROM tank_geometries WHERE tank_id = $1
		ORDER BY version DESC LIMIT 1`, tankID).Scan(&rec)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TankGeometry{}, model.ErrUnknownTank
	}
	if err != nil {
		return model.TankGeometry{}, err
	}
	var g model.TankGeometry
	return g, json.Unmarshal(rec, &g)
}

func (r *Repository) ListGeometries(ctx context.Context) ([]model.TankGeometry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (tank_id) record FROM tank_geometries
		ORDER BY tank_id, version DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TankGeometry, error) {
		var rec []byte
		var g model.TankGeometry
		if err := row.Scan(&rec); err != nil {
			return g, err
		}
		return g, json.Unmarshal(rec, &g)
	})
}

// SaveRollups upserts the buckets in a single batch.
func (r *Repository) SaveRollups(ctx context.Context, rollups []model.Rollup) error {
	if len(rollups) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ru := range rollups {
		batch.Queue(`
			INSERT INTO tank_rollups
				(tank_id, start, granularity, count, min_liters, max_liters, avg_liters, first_liters, last_liters)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (tank_id, start) DO UPDATE SET
				granularity = EXCLUDED.granularity, count = EXCLUDED.count,
				min_liters = EXCLUDED.min_liters, max_liters = EXCLUDED.max_liters,
				avg_liters = EXCLUDED.avg_liters, first_liters = EXCLUDED.first_liters,
				last_liters = EXCLUDED.last_liters`,
			ru.TankID, ru.Start, string(ru.Granularity), ru.Count,
			ru.MinLiters, ru.MaxLiters, ru.AvgLiters, ru.FirstLiters, ru.LastLiters)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

func (r *Repository) LoadRollups(ctx context.Context, tankID string, rng model.TimeRange) ([]model.Rollup, error) {
	query, args := ranged(`
		SELECT start, granularity, count, min_liters, max_liters, avg_liters, first_liters, last_liters
		FROM tank_rollups WHERE tank_id = $1`, tankID, "start", rng)
	rows, err := r.pool.Query(ctx, query+` ORDER BY start`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Rollup, error) {
		ru := model.Rollup{TankID: tankID}
		var gran string
		err := row.Scan(&ru.Start, &gran, &ru.Count, &ru.MinLiters, &ru.MaxLiters, &ru.AvgLiters, &ru.FirstLiters, &ru.LastLiters)
		ru.Start = ru.Start.UTC()
		ru.Granularity = model.Granularity(gran)
		return ru, err
	})
}

func ranged(query, tankID, col string, rng model.TimeRange) (string, []any) {
	args := []any{tankID}
	if !rng.From.IsZero() {
		args = append(args, rng.From)
		query += fmt.Sprintf(" AND %s >= $%d", col, len(args))
	}
	if !rng.To.IsZero() {
		args = append(args, rng.To)
		query += fmt.Sprintf(" AND %s < $%d", col, len(args))
	}
	return query, args
}
