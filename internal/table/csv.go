// Package table implements the delimited-text external interface:
// header-row CSV in, header-row CSV out, every identifier column kept
// as a string rather than coerced to a number.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one parsed CSV record, keyed by lowercased header name.
type Row map[string]string

// ReadRows reads a header-row CSV file into a slice of Row maps. Every
// value is kept as a raw string; callers coerce types as needed so
// that unparseable values can be logged rather than silently dropped.
func ReadRows(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%s: empty file, no header row", path)
		}
		return nil, err
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteRows writes a header-row CSV file from an ordered column list
// and row values, in column order.
func WriteRows(path string, columns []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ParseBool accepts True/False/1/0/yes/no (any case).
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "t", "y":
		return true
	default:
		return false
	}
}

// ParseDecimal parses a monetary field, defaulting to zero on failure.
func ParseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseInt parses an integer field, defaulting to zero on failure.
func ParseInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0
		}
		return int(f)
	}
	return n
}

// ParseTimestamp parses an ISO-8601 timestamp that may be tz-aware or
// tz-naive, normalizing to UTC and then dropping the timezone.
// Returns ok=false for unparseable timestamps so the
// caller can drop the row and log it rather than treat it as fatal.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	layouts := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC().Round(0), true
		}
	}
	return time.Time{}, false
}

// FormatDecimal renders a decimal for CSV output.
func FormatDecimal(d decimal.Decimal) string {
	return d.String()
}

// FormatFloat renders a float for CSV output with fixed precision.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

// FormatInt renders an int for CSV output.
func FormatInt(n int) string {
	return strconv.Itoa(n)
}

// FormatBool renders a bool for CSV output.
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// FormatTimestamp renders a UTC timestamp for CSV output.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
