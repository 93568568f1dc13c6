// Package export encodes room measurements as CSV or Parquet downloads
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	parquet "github.com/parquet-go/parquet-go"
	"github.com/teslashibe/go-echoroom/internal/room"
)

// Format is an export encoding
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts "csv" or "parquet", case-insensitive. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type of the encoding
func (f Format) ContentType() string {
	if f == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv"
}

// Scope selects what is exported
type Scope string

const (
	ScopeSnapshot Scope = "snapshot" // one row per direction
	ScopeHistory  Scope = "history"  // one row per recorded update
)

// ParseScope accepts "snapshot" or "history". Empty means snapshot.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "snapshot":
		return ScopeSnapshot, nil
	case "history":
		return ScopeHistory, nil
	default:
		return "", fmt.Errorf("unsupported export scope %q", s)
	}
}

// Filename builds an attachment name such as room-snapshot-20240102T150405Z.csv
func Filename(scope Scope, f Format, at time.Time) string {
	return fmt.Sprintf("room-%s-%s.%s", scope, at.UTC().Format("20060102T150405Z"), f)
}

// Row is one exported measurement
type Row struct {
	Direction  string  `parquet:"direction"`
	Meters     float64 `parquet:"meters"`
	Echo       bool    `parquet:"echo"`
	LagSamples int64   `parquet:"lag_samples"`
	Updates    int64   `parquet:"updates"`
	AtMs       int64   `parquet:"at_ms"` // unix ms, 0 if never measured
}

var csvHeader = []string{"direction", "meters", "echo", "lag_samples", "updates", "at_ms"}

func (r Row) record() []string {
	return []string{
		r.Direction,
		strconv.FormatFloat(r.Meters, 'f', 4, 64),
		strconv.FormatBool(r.Echo),
		strconv.FormatInt(r.LagSamples, 10),
		strconv.FormatInt(r.Updates, 10),
		strconv.FormatInt(r.AtMs, 10),
	}
}

// RowsFromSnapshot returns one row per direction in snapshot order
func RowsFromSnapshot(snap room.Snapshot) []Row {
	rows := make([]Row, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		rows = append(rows, Row{
			Direction:  e.Direction.String(),
			Meters:     e.Estimate.Meters,
			Echo:       e.Estimate.Echo,
			LagSamples: int64(e.Estimate.LagSamples),
			Updates:    int64(e.Updates),
			AtMs:       unixMilli(e.UpdatedAt),
		})
	}
	return rows
}

// RowsFromHistory returns one row per reading, oldest first. Updates counts
// the readings seen so far for that direction.
func RowsFromHistory(history []room.Reading) []Row {
	seen := make(map[room.Direction]int64)
	rows := make([]Row, 0, len(history))
	for _, r := range history {
		seen[r.Direction]++
		rows = append(rows, Row{
			Direction:  r.Direction.String(),
			Meters:     r.Estimate.Meters,
			Echo:       r.Estimate.Echo,
			LagSamples: int64(r.Estimate.LagSamples),
			Updates:    seen[r.Direction],
			AtMs:       unixMilli(r.At),
		})
	}
	return rows
}

// Write encodes rows in the given format
func Write(w io.Writer, f Format, rows []Row) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, rows)
	case FormatParquet:
		return WriteParquet(w, rows)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// WriteCSV writes a header line followed by one line per row
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("csv header: %w", err)
	}
	for _, r := range rows {
		// error is buffered; checked on Flush
		_ = cw.Write(r.record())
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	return nil
}

// WriteParquet writes rows as a single Snappy-compressed row group
func WriteParquet(w io.Writer, rows []Row) error {
	pw := parquet.NewGenericWriter[Row](w, parquet.Compression(&parquet.Snappy))
	if _, err := pw.Write(rows); err != nil {
		pw.Close()
		return fmt.Errorf("parquet write: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}
	return nil
}

// ReadParquet decodes rows written by WriteParquet
func ReadParquet(data []byte) ([]Row, error) {
	gr := parquet.NewGenericReader[Row](bytes.NewReader(data))
	defer gr.Close()

	out := make([]Row, 0, gr.NumRows())
	batch := make([]Row, 256)
	for {
		n, err := gr.Read(batch)
		if n > 0 {
			out = append(out, batch[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parquet read: %w", err)
		}
	}
	return out, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
