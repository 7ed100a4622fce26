// Package sqlite stores tank readings, geometries and rollups in a SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/core/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS tank_readings (
    tank_id TEXT NOT NULL,
    captured_at INTEGER NOT NULL,
    received_at INTEGER NOT NULL,
    raw_distance_cm REAL NOT NULL,
    distance_cm REAL NOT NULL,
    volume_liters REAL NOT NULL,
    quality TEXT NOT NULL,
    geometry_version INTEGER NOT NULL,
    PRIMARY KEY(tank_id, captured_at)
);
CREATE TABLE IF NOT EXISTS tank_geometries (
    tank_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    record TEXT NOT NULL,
    PRIMARY KEY(tank_id, version)
);
CREATE TABLE IF NOT EXISTS tank_rollups (
    tank_id TEXT NOT NULL,
    start INTEGER NOT NULL,
    granularity TEXT NOT NULL,
    count INTEGER NOT NULL,
    min_liters REAL NOT NULL,
    max_liters REAL NOT NULL,
    avg_liters REAL NOT NULL,
    first_liters REAL NOT NULL,
    last_liters REAL NOT NULL,
    PRIMARY KEY(tank_id, start)
);`

// Repository implements store.Repository on SQLite.
type Repository struct {
	db *sql.DB
}

var _ store.Repository = (*Repository)(nil)

// Open opens or creates the database at path and ensures schema.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &Repository{db: db}, nil
}

// SaveReading is idempotent on (tank, capture time) so retried writes do
// not duplicate history.
func (r *Repository) SaveReading(ctx context.Context, rd model.SensorReading) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO tank_readings
        (tank_id, captured_at, received_at, raw_distance_cm, distance_cm, volume_liters, quality, geometry_version)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(tank_id, captured_at) DO NOTHING`,
		rd.TankID, rd.CapturedAt.UnixNano(), rd.ReceivedAt.UnixNano(), rd.RawDistanceCm, rd.DistanceCm,
		rd.VolumeLiters, string(rd.Quality), rd.GeometryVersion)
	return err
}

func (r *Repository) LoadHistory(ctx context.Context, tankID string, rng model.TimeRange) ([]model.SensorReading, error) {
	query := `SELECT captured_at, received_at, raw_distance_cm, distance_cm, volume_liters, quality, geometry_version
        FROM tank_readings WHERE tank_id = ?`
	args := []any{tankID}
	query, args = withRange(query, args, "captured_at", rng, func(t time.Time) any { return t.UnixNano() })
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY captured_at`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.SensorReading
	for rows.Next() {
		var captured, received int64
		var quality string
		rd := model.SensorReading{TankID: tankID}
		if err := rows.Scan(&captured, &received, &rd.RawDistanceCm, &rd.DistanceCm, &rd.VolumeLiters, &quality, &rd.GeometryVersion); err != nil {
			return nil, err
		}
		rd.CapturedAt = time.Unix(0, captured).UTC()
		rd.ReceivedAt = time.Unix(0, received).UTC()
		rd.Quality = model.QualityFlag(quality)
		out = append(out, rd)
	}
	return out, rows.Err()
}

func (r *Repository) SaveGeometry(ctx context.Context, g model.TankGeometry) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO tank_geometries (tank_id, version, record) VALUES (?, ?, ?)
        ON CONFLICT(tank_id, version) DO UPDATE SET record = excluded.record`,
		g.TankID, g.Version, string(b))
	return err
}

func (r *Repository) LoadGeometry(ctx context.Context, tankID string) (model.TankGeometry, error) {
	var rec string
	err := r.db.QueryRowContext(ctx, `SELECT record FROM tank_geometries WHERE tank_id = ?
        ORDER BY version DESC LIMIT 1`, tankID).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TankGeometry{}, model.ErrUnknownTank
	}
	if err != nil {
		return model.TankGeometry{}, err
	}
	var g model.TankGeometry
	return g, json.Unmarshal([]byte(rec), &g)
}

func (r *Repository) ListGeometries(ctx context.Context) ([]model.TankGeometry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT g.record FROM tank_geometries g
        JOIN (SELECT tank_id, MAX(version) AS version FROM tank_geometries GROUP BY tank_id) latest
        ON g.tank_id = latest.tank_id AND g.version = latest.version
        ORDER BY g.tank_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.TankGeometry
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, err
		}
		var g model.TankGeometry
		if err := json.Unmarshal([]byte(rec), &g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// SaveRollups upserts all buckets in one transaction.
func (r *Repository) SaveRollups(ctx context.Context, rollups []model.Rollup) error {
	if len(rollups) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tank_rollups
        (tank_id, start, granularity, count, min_liters, max_liters, avg_liters, first_liters, last_liters)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(tank_id, start) DO UPDATE SET
            granularity = excluded.granularity, count = excluded.count,
            min_liters = excluded.min_liters, max_liters = excluded.max_liters,
            avg_liters = excluded.avg_liters, first_liters = excluded.first_liters,
            last_liters = excluded.last_liters`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, ru := range rollups {
		if _, err := stmt.ExecContext(ctx, ru.TankID, ru.Start.Unix(), string(ru.Granularity), ru.Count,
			ru.MinLiters, ru.MaxLiters, ru.AvgLiters, ru.FirstLiters, ru.LastLiters); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) LoadRollups(ctx context.Context, tankID string, rng model.TimeRange) ([]model.Rollup, error) {
	query := `SELECT start, granularity, count, min_liters, max_liters, avg_liters, first_liters, last_liters
        FROM tank_rollups WHERE tank_id = ?`
	args := []any{tankID}
	query, args = withRange(query, args, "start", rng, func(t time.Time) any { return t.Unix() })
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY start`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Rollup
	for rows.Next() {
		var start int64
		var gran string
		ru := model.Rollup{TankID: tankID}
		if err := rows.Scan(&start, &gran, &ru.Count, &ru.MinLiters, &ru.MaxLiters, &ru.AvgLiters, &ru.FirstLiters, &ru.LastLiters); err != nil {
			return nil, err
		}
		ru.Start = time.Unix(start, 0).UTC()
		ru.Granularity = model.Granularity(gran)
		out = append(out, ru)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (r *Repository) Close() error { return r.db.Close() }

func withRange(query string, args []any, col string, rng model.TimeRange, conv func(time.Time) any) (string, []any) {
	if !rng.From.IsZero() {
		query += ` AND ` + col + ` >= ?`
		args = append(args, conv(rng.From))
	}
	if !rng.To.IsZero() {
		query += ` AND ` + col + ` < ?`
		args = append(args, conv(rng.To))
	}
	return query, args
}
