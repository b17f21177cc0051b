package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"telemetry-platform/internal/models"
	"telemetry-platform/pkg/logging"
	"telemetry-platform/pkg/metrics"
)

// columnRole identifies a semantic column of the canonical schema.
type columnRole int

const (
	roleTimestamp columnRole = iota
	roleSpeed
	roleLap
	roleLatitude
	roleLongitude
	roleDistance
	roleAverageSpeed
	roleTotalTime
	roleLapTime
)

var roleNames = map[columnRole]string{
	roleTimestamp:    "timestamp",
	roleSpeed:        "speed",
	roleLap:          "lap_number",
	roleLatitude:     "latitude",
	roleLongitude:    "longitude",
	roleDistance:     "distance",
	roleAverageSpeed: "average_speed",
	roleTotalTime:    "total_time_ms",
	roleLapTime:      "lap_time_ms",
}

func (r columnRole) String() string {
	return roleNames[r]
}

// roleAliases lists the accepted header names per role in priority
// order. Matching is case-insensitive and the first alias found in the
// header wins; headers that match no role are dropped.
var roleAliases = map[columnRole][]string{
	roleTimestamp:    {"timestamp_ms", "time_ms", "epoch_ms", "ts_ms", "timestamp", "time"},
	roleSpeed:        {"speed", "velocity", "v"},
	roleLap:          {"lap_number", "lap", "lapno", "lap_id"},
	roleLatitude:     {"latitude", "lat"},
	roleLongitude:    {"longitude", "lon", "lng", "long"},
	roleDistance:     {"distance", "dist", "d"},
	roleAverageSpeed: {"average_speed", "avg_speed", "mean_speed"},
	roleTotalTime:    {"total_time_ms", "total_ms", "elapsed_ms"},
	roleLapTime:      {"lap_time_ms", "lap_ms"},
}

// Epoch values above this threshold are taken to be milliseconds
// already; at or below it they are seconds. Kept exactly as the
// existing data files expect.
const millisecondThreshold = 1e11

// Layouts tried for string timestamps. Go accepts fractional seconds
// on any of these when parsing, so no .999 variants are needed. Naive
// values (no zone in the layout) parse as UTC.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006-01-02",
}

// NormalizerService maps raw CSV telemetry exports onto the canonical
// table schema.
type NormalizerService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewNormalizerService creates a new normalizer service.
func NewNormalizerService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *NormalizerService {
	return &NormalizerService{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Normalize parses raw CSV bytes and resolves them into a canonical
// telemetry table. Only structurally unparseable input fails; bad
// cells degrade to nulls and unknown columns are ignored.
func (s *NormalizerService) Normalize(ctx context.Context, raw []byte) (*models.CanonicalTable, error) {
	startTime := time.Now()

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.TrimLeadingSpace = true
	// Short rows are tolerated: their missing cells degrade to nulls
	// like any other unparseable cell. Only rows wider than the header
	// are a structural failure.
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		s.metrics.RecordNormalizeError("csv_parse")
		return nil, &models.MalformedInputError{Reason: "cannot parse CSV", Err: err}
	}
	if len(records) == 0 {
		s.metrics.RecordNormalizeError("empty_input")
		return nil, &models.MalformedInputError{Reason: "input has no header row"}
	}

	header := records[0]
	dataRows := records[1:]
	for i, row := range dataRows {
		if len(row) > len(header) {
			s.metrics.RecordNormalizeError("row_too_wide")
			return nil, &models.MalformedInputError{
				Reason: fmt.Sprintf("row %d has more fields than the header", i+2),
			}
		}
	}
	roles := resolveRoles(header)

	table := &models.CanonicalTable{
		Rows:    make([]models.Record, len(dataRows)),
		Columns: columnSet(roles),
	}

	for i, row := range dataRows {
		rec := models.Record{LapNumber: 1}

		rec.Speed = s.parseCell(row, roles, roleSpeed)
		rec.Latitude = s.parseCell(row, roles, roleLatitude)
		rec.Longitude = s.parseCell(row, roles, roleLongitude)
		rec.Distance = s.parseCell(row, roles, roleDistance)
		rec.AverageSpeed = s.parseCell(row, roles, roleAverageSpeed)
		rec.TotalTimeMS = s.parseCell(row, roles, roleTotalTime)
		rec.LapTimeMS = s.parseCell(row, roles, roleLapTime)

		// Unparseable or absent lap values collapse to 1, never null.
		if lap := s.parseCell(row, roles, roleLap); lap != nil {
			rec.LapNumber = int(*lap)
		}

		table.Rows[i] = rec
	}

	unit := s.resolveTimestamps(table.Rows, dataRows, roles)

	duration := time.Since(startTime)
	s.metrics.NormalizeDuration.Observe(duration.Seconds())
	s.metrics.RecordsNormalizedTotal.Add(float64(len(table.Rows)))
	s.metrics.RecordTimestampUnit(unit)

	s.logger.Info(ctx, "[NORMALIZE_COMPLETE] CSV normalized", logging.Fields{
		"row_count":        len(table.Rows),
		"input_bytes":      len(raw),
		"timestamp_unit":   unit,
		"columns":          table.Columns,
		"duration_seconds": duration.Seconds(),
	})

	return table, nil
}

// resolveRoles maps each canonical role to the index of the raw column
// backing it, if any. Header comparison is on the lower-cased, trimmed
// name; a duplicate header keeps its last occurrence.
func resolveRoles(header []string) map[columnRole]int {
	lower := make(map[string]int, len(header))
	for i, name := range header {
		lower[strings.ToLower(strings.TrimSpace(name))] = i
	}

	resolved := make(map[columnRole]int)
	for role, aliases := range roleAliases {
		for _, alias := range aliases {
			if idx, ok := lower[alias]; ok {
				resolved[role] = idx
				break
			}
		}
	}
	return resolved
}

func columnSet(roles map[columnRole]int) models.ColumnSet {
	has := func(r columnRole) bool {
		_, ok := roles[r]
		return ok
	}
	return models.ColumnSet{
		Timestamp:    has(roleTimestamp),
		Speed:        has(roleSpeed),
		LapNumber:    has(roleLap),
		Latitude:     has(roleLatitude),
		Longitude:    has(roleLongitude),
		Distance:     has(roleDistance),
		AverageSpeed: has(roleAverageSpeed),
		TotalTimeMS:  has(roleTotalTime),
		LapTimeMS:    has(roleLapTime),
	}
}

// parseCell parses the cell backing a role as a float, or nil when the
// role is unresolved, the cell is empty, or the value is not numeric.
func (s *NormalizerService) parseCell(row []string, roles map[columnRole]int, role columnRole) *float64 {
	idx, ok := roles[role]
	if !ok || idx >= len(row) {
		return nil
	}

	cell := strings.TrimSpace(row[idx])
	if cell == "" {
		return nil
	}

	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		s.metrics.RecordCellParseError(role.String())
		return nil
	}
	return &v
}

// resolveTimestamps fills timestamp_ms for all rows and reports the
// unit that was inferred: "ms", "s", "datetime" or "synthetic".
//
// Resolution order: numeric parse with median-based unit inference,
// then datetime-string parse treating naive values as UTC, then a
// synthetic clock of one sample per second when no timestamp column
// exists at all.
func (s *NormalizerService) resolveTimestamps(rows []models.Record, dataRows [][]string, roles map[columnRole]int) string {
	idx, ok := roles[roleTimestamp]
	if !ok {
		for i := range rows {
			ms := int64(i) * 1000
			rows[i].TimestampMS = &ms
		}
		return "synthetic"
	}

	parsed := make([]*float64, len(dataRows))
	numeric := make([]float64, 0, len(dataRows))
	for i, row := range dataRows {
		if idx >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[idx])
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		parsed[i] = &v
		numeric = append(numeric, v)
	}

	if len(numeric) > 0 {
		unit := "ms"
		scale := 1.0
		if median(numeric) <= millisecondThreshold {
			unit = "s"
			scale = 1000.0
		}
		for i, v := range parsed {
			if v == nil {
				s.recordTimestampMiss(dataRows[i], idx)
				continue
			}
			ms := int64(*v * scale)
			rows[i].TimestampMS = &ms
		}
		return unit
	}

	for i, row := range dataRows {
		if idx >= len(row) {
			continue
		}
		t, ok := parseDatetime(strings.TrimSpace(row[idx]))
		if !ok {
			s.recordTimestampMiss(row, idx)
			continue
		}
		ms := t.UnixMilli()
		rows[i].TimestampMS = &ms
	}
	return "datetime"
}

// recordTimestampMiss counts a timestamp cell that stayed null, unless
// it was empty to begin with.
func (s *NormalizerService) recordTimestampMiss(row []string, idx int) {
	if idx < len(row) && strings.TrimSpace(row[idx]) != "" {
		s.metrics.RecordCellParseError(roleTimestamp.String())
	}
}

func parseDatetime(cell string) (time.Time, bool) {
	if cell == "" {
		return time.Time{}, false
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, cell); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// median of a non-empty slice; the average of the middle pair for even
// lengths. The input is not modified.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
