// Package crops provides the SQLite-backed table of crop statistics behind
// the structured query tools. A single parametrized query serves all four
// tools — they differ only in which numeric column is filtered and sorted.
package crops

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// GrowType classifies how a crop is harvested.
type GrowType string

const (
	// GrowTypeSingle is a crop harvested once per planting.
	GrowTypeSingle GrowType = "single"
	// GrowTypeContinuous is a crop that regrows and is harvested repeatedly.
	GrowTypeContinuous GrowType = "continuous"
)

// SeedSourceNotFixed marks crops whose seeds have no fixed shop price
// (foraged, dropped, or event-only seeds). Such records carry no seed price.
const SeedSourceNotFixed = "not fixed"

// NoMatchSentinel is the fixed text returned when a structured query matches
// nothing. It is valid tool output, never an error — the router passes it to
// the final synthesis call unchanged.
const NoMatchSentinel = "no matching crops found."

// Record is one row of the crops table. Rows are read-only from the
// assistant's perspective; seeding happens offline via InsertBatch.
type Record struct {
	// Name is the crop's display name.
	Name string
	// Season is the season or seasons the crop grows in (e.g. "spring",
	// "spring+summer").
	Season string
	// SeedSource is where the seed is bought, or SeedSourceNotFixed.
	SeedSource string
	// SeedPrice is the seed shop price in gold. Meaningless when SeedSource
	// is SeedSourceNotFixed.
	SeedPrice int
	// SellPrice is the base sell price in gold.
	SellPrice int
	// GrowType is single or continuous.
	GrowType GrowType
	// GrowTime is days from planting to first harvest.
	GrowTime int
	// MaturityTime is days between harvests; only meaningful for
	// continuous crops.
	MaturityTime int
	// DailyRevenue is the base average gold earned per day.
	DailyRevenue float64
}

// Metric selects the numeric column a query filters and sorts by.
type Metric string

const (
	// MetricSellPrice filters/sorts by the base sell price.
	MetricSellPrice Metric = "sell_price"
	// MetricDailyRevenue filters/sorts by daily revenue.
	MetricDailyRevenue Metric = "daily_revenue"
	// MetricSeedPrice filters/sorts by the seed shop price.
	MetricSeedPrice Metric = "seed_price"
	// MetricGrowTime filters/sorts by days to first harvest.
	MetricGrowTime Metric = "grow_time"
)

// column returns the SQL column name for the metric. Returning a fixed
// string per enum value keeps user input out of the generated SQL.
func (m Metric) column() (string, error) {
	switch m {
	case MetricSellPrice, MetricDailyRevenue, MetricSeedPrice, MetricGrowTime:
		return string(m), nil
	default:
		return "", fmt.Errorf("crops: unknown metric %q", m)
	}
}

// Filter holds the optional constraints for a structured query.
// All fields are independent; zero values mean "no constraint".
type Filter struct {
	// Season is matched as a substring of the record's season field, so
	// "spring" matches multi-season records like "spring+summer".
	Season string
	// Min is the inclusive lower bound on the metric column.
	Min *float64
	// Max is the inclusive upper bound on the metric column.
	Max *float64
	// GrowType is an exact match when set.
	GrowType GrowType
	// Sort orders by the metric column: "asc" or "desc". Empty keeps the
	// table's natural order.
	Sort string
	// Limit caps the result count. Non-positive means unbounded.
	Limit int
}

// Store is the SQLite-backed crops table.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the crop statistics database.
// It resolves to ~/.cropsage/crops.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("crops: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".cropsage")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("crops: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "crops.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("crops: open %s: %w", path, err)
	}
	// Single writer connection avoids SQLITE_BUSY during seeding.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS crops (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    name           TEXT    NOT NULL,
    season         TEXT    NOT NULL,
    seed_source    TEXT    NOT NULL,
    seed_price     INTEGER NOT NULL DEFAULT 0,
    sell_price     INTEGER NOT NULL,
    grow_type      TEXT    NOT NULL CHECK(grow_type IN ('single','continuous')),
    grow_time      INTEGER NOT NULL,
    maturity_time  INTEGER NOT NULL DEFAULT 0,
    daily_revenue  REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crops_season ON crops (season);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("crops: migrate: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("crops: ping: %w", err)
	}
	return nil
}

// InsertBatch inserts records in a single transaction. Used by the offline
// seeding path; never called during query traffic.
func (s *Store) InsertBatch(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("crops: begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO crops
(name, season, seed_source, seed_price, sell_price, grow_type, grow_time, maturity_time, daily_revenue)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, q,
			r.Name, r.Season, r.SeedSource, r.SeedPrice, r.SellPrice,
			string(r.GrowType), r.GrowTime, r.MaturityTime, r.DailyRevenue,
		); err != nil {
			return fmt.Errorf("crops: insert %s: %w", r.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("crops: commit insert: %w", err)
	}
	return nil
}

// Query returns the records matching the filter, constrained and optionally
// sorted on the metric's column. Every returned record satisfies every
// supplied constraint; omitting a constraint only ever widens the result.
func (s *Store) Query(ctx context.Context, metric Metric, f Filter) ([]Record, error) {
	col, err := metric.column()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT name, season, seed_source, seed_price, sell_price,
grow_type, grow_time, maturity_time, daily_revenue FROM crops WHERE 1=1`)
	var args []any

	if f.Season != "" {
		sb.WriteString(" AND season LIKE ?")
		args = append(args, "%"+f.Season+"%")
	}
	if f.Min != nil && f.Max != nil {
		sb.WriteString(" AND " + col + " BETWEEN ? AND ?")
		args = append(args, *f.Min, *f.Max)
	} else if f.Min != nil {
		sb.WriteString(" AND " + col + " >= ?")
		args = append(args, *f.Min)
	} else if f.Max != nil {
		sb.WriteString(" AND " + col + " <= ?")
		args = append(args, *f.Max)
	}
	if f.GrowType != "" {
		sb.WriteString(" AND grow_type = ?")
		args = append(args, string(f.GrowType))
	}

	switch f.Sort {
	case "":
		// natural order
	case "asc":
		sb.WriteString(" ORDER BY " + col + " ASC")
	case "desc":
		sb.WriteString(" ORDER BY " + col + " DESC")
	default:
		return nil, fmt.Errorf("crops: invalid sort %q — want asc or desc", f.Sort)
	}

	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("crops: query: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var growType string
		if err := rows.Scan(&r.Name, &r.Season, &r.SeedSource, &r.SeedPrice, &r.SellPrice,
			&growType, &r.GrowTime, &r.MaturityTime, &r.DailyRevenue); err != nil {
			return nil, fmt.Errorf("crops: scan: %w", err)
		}
		r.GrowType = GrowType(growType)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crops: rows: %w", err)
	}
	return records, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("crops: close: %w", err)
	}
	return nil
}

// Format renders records as tool output: one line per record, label:value
// fields joined by "-". Seed price is omitted for crops without a fixed seed
// source; harvest interval appears only for continuous crops. An empty
// record set yields NoMatchSentinel.
func Format(records []Record) string {
	if len(records) == 0 {
		return NoMatchSentinel
	}

	var sb strings.Builder
	sb.WriteString("found the following crops:\n")
	for _, r := range records {
		sb.WriteString(r.Name)
		sb.WriteString("-season:" + r.Season)
		sb.WriteString("-seed source:" + r.SeedSource)
		if r.SeedSource != SeedSourceNotFixed {
			sb.WriteString("-seed price:" + strconv.Itoa(r.SeedPrice) + "G")
		}
		sb.WriteString("-sell price:" + strconv.Itoa(r.SellPrice) + "G")
		sb.WriteString("-harvest type:" + string(r.GrowType))
		sb.WriteString("-grow time:" + strconv.Itoa(r.GrowTime) + " days")
		if r.GrowType == GrowTypeContinuous {
			sb.WriteString("-harvest interval:" + strconv.Itoa(r.MaturityTime) + " days")
		}
		sb.WriteString("-daily revenue:" + strconv.FormatFloat(r.DailyRevenue, 'f', -1, 64) + "G")
		sb.WriteByte('\n')
	}
	return sb.String()
}
