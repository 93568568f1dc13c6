package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-echoroom/internal/room"
	"github.com/teslashibe/go-echoroom/internal/sonar"
)

func testState(t *testing.T) *room.State {
	t.Helper()
	state, err := room.NewState(room.Directions, 10)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	state.Update(room.North, sonar.Estimate{Meters: 1.8006, LagSamples: 463, Echo: true})
	state.Update(room.East, sonar.Estimate{Meters: 2.5006, LagSamples: 643, Echo: true})
	state.Update(room.North, sonar.Estimate{Meters: 1.7967, LagSamples: 462, Echo: true})
	return state
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"csv", FormatCSV, false},
		{"Parquet", FormatParquet, false},
		{"pdf", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseScope(t *testing.T) {
	if s, err := ParseScope(""); err != nil || s != ScopeSnapshot {
		t.Errorf("ParseScope(\"\") = %s, %v", s, err)
	}
	if s, err := ParseScope("history"); err != nil || s != ScopeHistory {
		t.Errorf("ParseScope(history) = %s, %v", s, err)
	}
	if _, err := ParseScope("everything"); err == nil {
		t.Error("expected error for unknown scope")
	}
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

	if got := Filename(ScopeHistory, FormatParquet, at); got != "room-history-20240102T150405Z.parquet" {
		t.Errorf("unexpected filename %s", got)
	}
}

func TestRowsFromSnapshot(t *testing.T) {
	rows := RowsFromSnapshot(testState(t).Snapshot())

	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}

	north := rows[0]
	if north.Direction != "north" || north.Meters != 1.7967 || north.Updates != 2 || north.AtMs == 0 {
		t.Errorf("unexpected north row %+v", north)
	}

	south := rows[1]
	if south.Echo || south.Updates != 0 || south.AtMs != 0 {
		t.Errorf("expected unmeasured south row, got %+v", south)
	}
}

func TestRowsFromHistory(t *testing.T) {
	rows := RowsFromHistory(testState(t).History())

	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	want := []struct {
		dir     string
		updates int64
	}{
		{"north", 1},
		{"east", 1},
		{"north", 2},
	}
	for i, w := range want {
		if rows[i].Direction != w.dir || rows[i].Updates != w.updates {
			t.Errorf("row %d: got %s/%d, want %s/%d", i, rows[i].Direction, rows[i].Updates, w.dir, w.updates)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, RowsFromSnapshot(testState(t).Snapshot())); err != nil {
		t.Fatalf("Write: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("csv read: %v", err)
	}

	if len(records) != 5 {
		t.Fatalf("expected header + 4 rows, got %d", len(records))
	}
	if strings.Join(records[0], ",") != "direction,meters,echo,lag_samples,updates,at_ms" {
		t.Errorf("unexpected header %v", records[0])
	}
	if records[3][0] != "east" || records[3][1] != "2.5006" || records[3][2] != "true" || records[3][3] != "643" {
		t.Errorf("unexpected east record %v", records[3])
	}
}

func TestWriteParquet(t *testing.T) {
	rows := RowsFromSnapshot(testState(t).Snapshot())

	var buf bytes.Buffer
	if err := Write(&buf, FormatParquet, rows); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !bytes.HasPrefix(buf.Bytes(), []byte("PAR1")) {
		t.Error("expected parquet magic header")
	}

	got, err := ReadParquet(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}

	if len(got) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(got))
	}
	for i := range rows {
		if got[i] != rows[i] {
			t.Errorf("row %d: got %+v, want %+v", i, got[i], rows[i])
		}
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, Format("xlsx"), nil); err == nil {
		t.Error("expected error for unknown format")
	}
}
