package models

import "sort"

// Laps returns the distinct lap numbers in ascending order.
func (t *DerivedTable) Laps() []int {
	seen := make(map[int]struct{})
	laps := make([]int, 0)
	for _, row := range t.Rows {
		if _, ok := seen[row.LapNumber]; !ok {
			seen[row.LapNumber] = struct{}{}
			laps = append(laps, row.LapNumber)
		}
	}
	sort.Ints(laps)
	return laps
}

// FilterLaps returns a copy of the table containing only rows whose
// lap number is in the selection. An empty selection keeps every row.
// The receiver is never modified; filtering is a charting concern and
// must not feed back into normalization.
func (t *DerivedTable) FilterLaps(laps []int) *DerivedTable {
	if len(laps) == 0 {
		return t.clone(t.Rows)
	}

	selected := make(map[int]struct{}, len(laps))
	for _, lap := range laps {
		selected[lap] = struct{}{}
	}

	rows := make([]DerivedRecord, 0, len(t.Rows))
	for _, row := range t.Rows {
		if _, ok := selected[row.LapNumber]; ok {
			rows = append(rows, row)
		}
	}
	return t.clone(rows)
}

// LapSummary aggregates the non-null speed values of a single lap for
// the detail view. Speed fields are nil when the lap has no usable
// speed samples.
type LapSummary struct {
	LapNumber int      `json:"lap_number"`
	RowCount  int      `json:"row_count"`
	SpeedMin  *float64 `json:"speed_min"`
	SpeedMax  *float64 `json:"speed_max"`
	SpeedAvg  *float64 `json:"speed_avg"`
}

// Lap returns the subset of rows belonging to one lap together with
// its summary statistics.
func (t *DerivedTable) Lap(lapNumber int) (*DerivedTable, LapSummary) {
	rows := make([]DerivedRecord, 0)
	for _, row := range t.Rows {
		if row.LapNumber == lapNumber {
			rows = append(rows, row)
		}
	}

	summary := LapSummary{LapNumber: lapNumber, RowCount: len(rows)}

	var sum float64
	var count int
	for _, row := range rows {
		if row.Speed == nil {
			continue
		}
		v := *row.Speed
		if summary.SpeedMin == nil || v < *summary.SpeedMin {
			speedMin := v
			summary.SpeedMin = &speedMin
		}
		if summary.SpeedMax == nil || v > *summary.SpeedMax {
			speedMax := v
			summary.SpeedMax = &speedMax
		}
		sum += v
		count++
	}
	if count > 0 {
		avg := sum / float64(count)
		summary.SpeedAvg = &avg
	}

	return t.clone(rows), summary
}

// clone builds a new table sharing the metadata of the receiver with
// the given rows.
func (t *DerivedTable) clone(rows []DerivedRecord) *DerivedTable {
	out := make([]DerivedRecord, len(rows))
	copy(out, rows)
	return &DerivedTable{
		Rows:     out,
		Presence: t.Presence,
		Columns:  t.Columns,
		Timezone: t.Timezone,
	}
}
