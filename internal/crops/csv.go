package crops

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// csvColumns is the required header of a crop seed file, in order.
var csvColumns = []string{
	"name", "season", "seed_source", "seed_price", "sell_price",
	"grow_type", "grow_time", "maturity_time", "daily_revenue",
}

// LoadCSV reads crop records from a CSV file with the header
// name,season,seed_source,seed_price,sell_price,grow_type,grow_time,maturity_time,daily_revenue.
// seed_price may be empty for crops whose seed source is "not fixed";
// maturity_time may be empty for single-harvest crops.
func LoadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("crops: open csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses crop records from r. Split out from LoadCSV for tests.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("crops: read csv header: %w", err)
	}
	if len(header) != len(csvColumns) {
		return nil, fmt.Errorf("crops: want %d csv columns, got %d", len(csvColumns), len(header))
	}
	for i, want := range csvColumns {
		if strings.TrimSpace(strings.ToLower(header[i])) != want {
			return nil, fmt.Errorf("crops: csv column %d: want %q, got %q", i, want, header[i])
		}
	}

	var records []Record
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("crops: read csv line %d: %w", line, err)
		}

		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("crops: csv line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseRow converts one CSV row into a Record.
func parseRow(row []string) (Record, error) {
	rec := Record{
		Name:       row[0],
		Season:     row[1],
		SeedSource: row[2],
	}
	if rec.Name == "" {
		return rec, fmt.Errorf("name must not be empty")
	}

	var err error
	if rec.SeedPrice, err = atoiOrZero(row[3]); err != nil {
		return rec, fmt.Errorf("seed_price: %w", err)
	}
	if rec.SellPrice, err = strconv.Atoi(row[4]); err != nil {
		return rec, fmt.Errorf("sell_price: %w", err)
	}

	switch GrowType(row[5]) {
	case GrowTypeSingle, GrowTypeContinuous:
		rec.GrowType = GrowType(row[5])
	default:
		return rec, fmt.Errorf("grow_type: want single or continuous, got %q", row[5])
	}

	if rec.GrowTime, err = strconv.Atoi(row[6]); err != nil {
		return rec, fmt.Errorf("grow_time: %w", err)
	}
	if rec.MaturityTime, err = atoiOrZero(row[7]); err != nil {
		return rec, fmt.Errorf("maturity_time: %w", err)
	}
	if rec.DailyRevenue, err = strconv.ParseFloat(row[8], 64); err != nil {
		return rec, fmt.Errorf("daily_revenue: %w", err)
	}

	return rec, nil
}

// atoiOrZero parses an optional integer column; empty means zero.
func atoiOrZero(s string) (int, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
