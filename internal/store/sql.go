// Package store writes normalized marine records into the shared
// time-series database with insert-or-replace semantics. The connection
// handle is owned by the host; the store assumes the backing database
// serializes concurrent writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/config"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
)

// forecastRetention bounds how far back forecast rows are kept: rows whose
// predicted time is older than this are pruned before each insert cycle.
const forecastRetention = 24 * time.Hour

// Store persists routed field sets. The SQL dialect is probed once at
// construction and cached for the lifetime of the connection.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     *zap.Logger
}

func New(ctx context.Context, db *sql.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	d := detectDialect(ctx, db)
	log.Info("detected storage dialect", zap.String("dialect", d.Name()))
	return &Store{db: db, dialect: d, log: log.Named("store")}
}

// Dialect reports the cached dialect name.
func (s *Store) Dialect() string { return s.dialect.Name() }

// Upsert writes one row of fields for (timestamp, station). Re-inserting
// the same key overwrites rather than duplicates, so pollers may re-fetch
// overlapping windows safely.
func (s *Store) Upsert(ctx context.Context, table, stationID string, ts time.Time, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	names := []string{quote("dateTime"), quote("station_id")}
	args := []any{ts.Unix(), stationID}
	for _, col := range cols {
		names = append(names, quote(col))
		args = append(args, fields[col])
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = s.dialect.Placeholder(i + 1)
	}

	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", quote(col), quote(col)))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s, %s) DO UPDATE SET %s",
		quote(table),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		quote("dateTime"), quote("station_id"),
		strings.Join(updates, ", "),
	)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &marine.PersistenceError{Table: table, Cause: err}
	}
	return nil
}

// ReplaceForecast refreshes the rolling forecast window for a station:
// rows predicted more than 24h in the past are deleted, then each new
// prediction is upserted with its computed days-ahead value.
func (s *Store) ReplaceForecast(ctx context.Context, stationID string, preds []marine.TidePrediction, now time.Time) error {
	cutoff := now.Add(-forecastRetention)

	query := fmt.Sprintf(
		"DELETE FROM %s WHERE %s = %s AND %s < %s",
		quote(config.ForecastTable),
		quote("station_id"), s.dialect.Placeholder(1),
		quote("dateTime"), s.dialect.Placeholder(2),
	)
	if _, err := s.db.ExecContext(ctx, query, stationID, cutoff.Unix()); err != nil {
		return &marine.PersistenceError{Table: config.ForecastTable, Cause: err}
	}

	for _, p := range preds {
		fields := map[string]any{
			"tide_type":        string(p.Type),
			"predicted_height": p.Height,
			"datum":            p.Datum,
			"days_ahead":       p.DaysAhead(now),
		}
		if err := s.Upsert(ctx, config.ForecastTable, stationID, p.Time, fields); err != nil {
			return err
		}
	}
	return nil
}

// EnsureSchema creates the destination tables implied by the field
// mappings plus the forecast table. Production installs normally carry a
// pre-built schema; this covers first runs and tests.
func (s *Store) EnsureSchema(ctx context.Context, mappings map[string]map[string]config.FieldMapping) error {
	tables := make(map[string]map[string]string)
	for _, moduleMappings := range mappings {
		for _, fm := range moduleMappings {
			if fm.Table == "" || fm.Table == config.TableNone || fm.Table == config.ForecastTable {
				continue
			}
			cols, ok := tables[fm.Table]
			if !ok {
				cols = make(map[string]string)
				tables[fm.Table] = cols
			}
			cols[fm.Column] = fm.Type
		}
	}

	for table, cols := range tables {
		if err := s.createTable(ctx, table, cols); err != nil {
			return err
		}
	}

	return s.createTable(ctx, config.ForecastTable, map[string]string{
		"tide_type":        "text",
		"predicted_height": "numeric",
		"datum":            "text",
		"days_ahead":       "integer",
	})
}

func (s *Store) createTable(ctx context.Context, table string, cols map[string]string) error {
	names := make([]string, 0, len(cols))
	for col := range cols {
		names = append(names, col)
	}
	sort.Strings(names)

	defs := []string{
		fmt.Sprintf("%s INTEGER NOT NULL", quote("dateTime")),
		fmt.Sprintf("%s TEXT NOT NULL", quote("station_id")),
	}
	for _, col := range names {
		defs = append(defs, fmt.Sprintf("%s %s", quote(col), s.dialect.ColumnType(cols[col])))
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s, %s)", quote("dateTime"), quote("station_id")))

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(table), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return &marine.PersistenceError{Table: table, Cause: err}
	}
	return nil
}

func quote(identifier string) string {
	return `"` + identifier + `"`
}
