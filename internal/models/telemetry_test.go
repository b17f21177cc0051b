package models

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func speedPtr(v float64) *float64 { return &v }
func tsPtr(v int64) *int64        { return &v }

func TestDeriveOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		window  int
		wantErr bool
	}{
		{"minimum window", 1, false},
		{"typical window", 5, false},
		{"maximum window", 21, false},
		{"zero window", 0, true},
		{"negative window", -1, true},
		{"even window", 4, true},
		{"above maximum", 23, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DeriveOptions{SmoothingWindow: tt.window}.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMalformedInputError(t *testing.T) {
	cause := errors.New("record on line 2: wrong number of fields")
	err := &MalformedInputError{Reason: "invalid CSV", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("Unwrap() should expose the underlying parse error")
	}

	var malformed *MalformedInputError
	if !errors.As(fmt.Errorf("normalize: %w", err), &malformed) {
		t.Error("errors.As should find a wrapped MalformedInputError")
	}

	bare := &MalformedInputError{Reason: "no data rows"}
	if bare.Error() != "malformed input: no data rows" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func sampleDerivedTable() *DerivedTable {
	return &DerivedTable{
		Rows: []DerivedRecord{
			{Record: Record{TimestampMS: tsPtr(0), LapNumber: 1, Speed: speedPtr(10)}},
			{Record: Record{TimestampMS: tsPtr(1000), LapNumber: 1, Speed: speedPtr(30)}},
			{Record: Record{TimestampMS: tsPtr(2000), LapNumber: 3, Speed: speedPtr(20)}},
			{Record: Record{TimestampMS: tsPtr(3000), LapNumber: 2, Speed: nil}},
		},
		Presence: PresenceFlags{Speed: true, TimeLocal: true},
		Columns:  ColumnSet{Timestamp: true, Speed: true, LapNumber: true},
		Timezone: "UTC",
	}
}

func TestDerivedTable_Laps(t *testing.T) {
	got := sampleDerivedTable().Laps()
	want := []int{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Laps() = %v, want %v", got, want)
	}

	empty := &DerivedTable{}
	if got := empty.Laps(); len(got) != 0 {
		t.Errorf("Laps() on empty table = %v, want none", got)
	}
}

func TestDerivedTable_FilterLaps(t *testing.T) {
	table := sampleDerivedTable()

	tests := []struct {
		name     string
		laps     []int
		wantRows int
	}{
		{"single lap", []int{1}, 2},
		{"multiple laps", []int{1, 3}, 3},
		{"unknown lap drops everything", []int{9}, 0},
		{"empty selection keeps all rows", nil, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filtered := table.FilterLaps(tt.laps)
			if len(filtered.Rows) != tt.wantRows {
				t.Errorf("row count = %d, want %d", len(filtered.Rows), tt.wantRows)
			}
			if filtered.Timezone != table.Timezone || filtered.Presence != table.Presence {
				t.Error("filtering should carry table metadata through")
			}
		})
	}

	// The receiver keeps its rows regardless of the selection.
	table.FilterLaps([]int{3})
	if len(table.Rows) != 4 {
		t.Errorf("receiver row count = %d after FilterLaps, want 4", len(table.Rows))
	}
}

func TestDerivedTable_Lap(t *testing.T) {
	table := sampleDerivedTable()

	lapTable, summary := table.Lap(1)
	if len(lapTable.Rows) != 2 {
		t.Fatalf("row count = %d, want 2", len(lapTable.Rows))
	}
	if summary.RowCount != 2 {
		t.Errorf("summary.row_count = %d, want 2", summary.RowCount)
	}
	if summary.SpeedMin == nil || *summary.SpeedMin != 10 {
		t.Errorf("summary.speed_min = %v, want 10", summary.SpeedMin)
	}
	if summary.SpeedMax == nil || *summary.SpeedMax != 30 {
		t.Errorf("summary.speed_max = %v, want 30", summary.SpeedMax)
	}
	if summary.SpeedAvg == nil || *summary.SpeedAvg != 20 {
		t.Errorf("summary.speed_avg = %v, want 20", summary.SpeedAvg)
	}
}

func TestDerivedTable_LapWithoutSpeedSamples(t *testing.T) {
	table := sampleDerivedTable()

	lapTable, summary := table.Lap(2)
	if summary.RowCount != 1 || len(lapTable.Rows) != 1 {
		t.Fatalf("summary = %+v, want one row", summary)
	}
	if summary.SpeedMin != nil || summary.SpeedMax != nil || summary.SpeedAvg != nil {
		t.Error("speed aggregates should stay null without usable samples")
	}
}

func TestDerivedTable_LapMissing(t *testing.T) {
	table := sampleDerivedTable()

	lapTable, summary := table.Lap(42)
	if summary.RowCount != 0 || len(lapTable.Rows) != 0 {
		t.Errorf("unknown lap should be empty, got %d rows", len(lapTable.Rows))
	}
}
