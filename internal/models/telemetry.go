package models

import (
	"fmt"
	"time"
)

// Record is a single row of the canonical telemetry table. Optional
// values are pointers so that unparseable or missing cells carry
// through as nulls instead of zero values.
type Record struct {
	TimestampMS  *int64   `json:"timestamp_ms"`
	Speed        *float64 `json:"speed"`
	LapNumber    int      `json:"lap_number"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Distance     *float64 `json:"distance"`
	AverageSpeed *float64 `json:"average_speed"`
	TotalTimeMS  *float64 `json:"total_time_ms"`
	LapTimeMS    *float64 `json:"lap_time_ms"`
}

// ColumnSet records which canonical columns were resolved from the
// source header. Timestamp is false when timestamp_ms was synthesized
// from the row index; LapNumber is false when every row defaulted to 1.
type ColumnSet struct {
	Timestamp    bool `json:"timestamp"`
	Speed        bool `json:"speed"`
	LapNumber    bool `json:"lap_number"`
	Latitude     bool `json:"latitude"`
	Longitude    bool `json:"longitude"`
	Distance     bool `json:"distance"`
	AverageSpeed bool `json:"average_speed"`
	TotalTimeMS  bool `json:"total_time_ms"`
	LapTimeMS    bool `json:"lap_time_ms"`
}

// CanonicalTable is the output of column normalization: rows in
// original file order with a fixed schema, plus the set of columns
// actually found in the source. Tables are treated as immutable once
// built; downstream stages copy rather than mutate.
type CanonicalTable struct {
	Rows    []Record  `json:"rows"`
	Columns ColumnSet `json:"columns"`
}

// DerivedRecord extends a canonical record with the series computed
// by the derived-series builder.
type DerivedRecord struct {
	Record
	TimeLocal          *time.Time `json:"time_local"`
	SpeedSmooth        *float64   `json:"speed_smooth"`
	DistanceNormalized *float64   `json:"distance_normalized"`
}

// PresenceFlags tells consumers which optional series exist in a
// derived table, so views can skip charts instead of probing rows.
type PresenceFlags struct {
	Speed              bool `json:"speed"`
	Latitude           bool `json:"latitude"`
	Longitude          bool `json:"longitude"`
	Distance           bool `json:"distance"`
	AverageSpeed       bool `json:"average_speed"`
	TotalTimeMS        bool `json:"total_time_ms"`
	LapTimeMS          bool `json:"lap_time_ms"`
	TimeLocal          bool `json:"time_local"`
	SpeedSmooth        bool `json:"speed_smooth"`
	DistanceNormalized bool `json:"distance_normalized"`
}

// DerivedTable is a canonical table sorted by timestamp with local
// time, smoothed speed and per-lap normalized distance attached.
// Timezone holds the zone actually used (UTC when the requested name
// was not recognized).
type DerivedTable struct {
	Rows     []DerivedRecord `json:"rows"`
	Presence PresenceFlags   `json:"presence"`
	Columns  ColumnSet       `json:"columns"`
	Timezone string          `json:"timezone"`
}

// Smoothing window bounds exposed to callers.
const (
	MinSmoothingWindow = 1
	MaxSmoothingWindow = 21
)

// DeriveOptions are the knobs honored by the derived-series builder.
type DeriveOptions struct {
	// Timezone is an IANA zone name. Empty or unrecognized names fall
	// back to UTC.
	Timezone string

	// SmoothingWindow is the width of the centered moving average
	// applied to speed. Must be odd and within [1, 21]; a window of 1
	// disables smoothing.
	SmoothingWindow int
}

// Validate checks the option ranges before derivation runs.
func (o DeriveOptions) Validate() error {
	if o.SmoothingWindow < MinSmoothingWindow || o.SmoothingWindow > MaxSmoothingWindow {
		return fmt.Errorf("smoothing window %d out of range [%d, %d]",
			o.SmoothingWindow, MinSmoothingWindow, MaxSmoothingWindow)
	}
	if o.SmoothingWindow%2 == 0 {
		return fmt.Errorf("smoothing window %d must be odd", o.SmoothingWindow)
	}
	return nil
}

// MalformedInputError indicates the uploaded bytes could not be parsed
// as tabular data at all. Individual bad cells never produce this
// error; they degrade to nulls instead.
type MalformedInputError struct {
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed input: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed input: %s", e.Reason)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}
