package services

import (
	"context"
	"sort"
	"time"

	"4d63.com/tz"

	"telemetry-platform/internal/models"
	"telemetry-platform/pkg/logging"
	"telemetry-platform/pkg/metrics"
)

// DeriverService computes the presentation-ready series on top of a
// canonical table: localized time, smoothed speed and per-lap
// normalized distance.
type DeriverService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewDeriverService creates a new deriver service.
func NewDeriverService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *DeriverService {
	return &DeriverService{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Derive builds a derived table from a canonical one. The input table
// is never modified and the result is fully determined by the inputs,
// so repeated calls with equal arguments produce identical tables.
func (s *DeriverService) Derive(ctx context.Context, table *models.CanonicalTable, opts models.DeriveOptions) (*models.DerivedTable, error) {
	startTime := time.Now()

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	loc, recognized := s.resolveLocation(ctx, opts.Timezone)

	rows := make([]models.DerivedRecord, len(table.Rows))
	for i, rec := range table.Rows {
		rows[i] = models.DerivedRecord{Record: rec}
	}

	// Timestamp order is required before smoothing and lap grouping.
	// The sort is stable so equal or null timestamps keep file order.
	sort.SliceStable(rows, func(i, j int) bool {
		ti, tj := rows[i].TimestampMS, rows[j].TimestampMS
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return *ti < *tj
		}
	})

	for i := range rows {
		if ts := rows[i].TimestampMS; ts != nil {
			local := time.UnixMilli(*ts).In(loc)
			rows[i].TimeLocal = &local
		}
	}

	smoothed := opts.SmoothingWindow > 1 && table.Columns.Speed
	if smoothed {
		smoothSpeed(rows, opts.SmoothingWindow)
	}

	if table.Columns.Distance {
		normalizeDistancePerLap(rows)
	}

	derived := &models.DerivedTable{
		Rows: rows,
		Presence: models.PresenceFlags{
			Speed:              table.Columns.Speed,
			Latitude:           table.Columns.Latitude,
			Longitude:          table.Columns.Longitude,
			Distance:           table.Columns.Distance,
			AverageSpeed:       table.Columns.AverageSpeed,
			TotalTimeMS:        table.Columns.TotalTimeMS,
			LapTimeMS:          table.Columns.LapTimeMS,
			TimeLocal:          true,
			SpeedSmooth:        smoothed,
			DistanceNormalized: table.Columns.Distance,
		},
		Columns:  table.Columns,
		Timezone: loc.String(),
	}

	duration := time.Since(startTime)
	s.metrics.DeriveDuration.Observe(duration.Seconds())

	s.logger.Debug(ctx, "[DERIVE_COMPLETE] Derived series built", logging.Fields{
		"row_count":        len(rows),
		"timezone":         loc.String(),
		"tz_recognized":    recognized,
		"smoothing_window": opts.SmoothingWindow,
		"duration_seconds": duration.Seconds(),
	})

	return derived, nil
}

// resolveLocation loads the named IANA zone, falling back to UTC when
// the name is not a recognized zone identifier. The fallback is a
// normal outcome, not an error.
func (s *DeriverService) resolveLocation(ctx context.Context, name string) (*time.Location, bool) {
	if name == "" {
		return time.UTC, true
	}

	loc, err := tz.LoadLocation(name)
	if err != nil {
		s.metrics.RecordTimezoneFallback()
		s.logger.Warn(ctx, "[DERIVE_TZ_FALLBACK] Unrecognized timezone, using UTC", logging.Fields{
			"timezone": name,
		})
		return time.UTC, false
	}
	return loc, true
}

// smoothSpeed writes the centered moving average of speed into each
// row. Windows truncate at the sequence edges and null speeds are
// excluded from the mean; a window with no usable values stays null.
func smoothSpeed(rows []models.DerivedRecord, window int) {
	half := window / 2
	for i := range rows {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi > len(rows)-1 {
			hi = len(rows) - 1
		}

		var sum float64
		var count int
		for j := lo; j <= hi; j++ {
			if rows[j].Speed != nil {
				sum += *rows[j].Speed
				count++
			}
		}
		if count > 0 {
			avg := sum / float64(count)
			rows[i].SpeedSmooth = &avg
		}
	}
}

// normalizeDistancePerLap subtracts the per-lap minimum distance so
// every lap's trace starts at zero. Laps are independent and null
// distances stay null. Distance is assumed monotonic within a lap;
// resets or gaps are passed through uncorrected.
func normalizeDistancePerLap(rows []models.DerivedRecord) {
	mins := make(map[int]float64)
	for _, row := range rows {
		if row.Distance == nil {
			continue
		}
		if m, ok := mins[row.LapNumber]; !ok || *row.Distance < m {
			mins[row.LapNumber] = *row.Distance
		}
	}

	for i := range rows {
		if rows[i].Distance == nil {
			continue
		}
		normalized := *rows[i].Distance - mins[rows[i].LapNumber]
		rows[i].DistanceNormalized = &normalized
	}
}
