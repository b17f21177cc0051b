package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"telemetry-platform/internal/models"
	"telemetry-platform/pkg/logging"
	"telemetry-platform/pkg/metrics"
)

func newTestLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("test", "0.0.0", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func newTestCollector() *metrics.Collector {
	return metrics.NewCollector("test", prometheus.NewRegistry())
}

func newTestNormalizer() *NormalizerService {
	return NewNormalizerService(newTestLogger(), newTestCollector())
}

func tsValues(t *testing.T, table *models.CanonicalTable) []int64 {
	t.Helper()
	out := make([]int64, len(table.Rows))
	for i, row := range table.Rows {
		if row.TimestampMS == nil {
			t.Fatalf("row %d: timestamp_ms is null", i)
		}
		out[i] = *row.TimestampMS
	}
	return out
}

func TestNormalizer_Normalize(t *testing.T) {
	tests := []struct {
		name        string
		csv         string
		wantErr     bool
		checkValues func(*testing.T, *models.CanonicalTable)
	}{
		{
			name: "aliased columns with timestamps in seconds",
			csv:  "time,v,lap,lat,lon,dist\n1000,50.5,1,35.1,139.2,100\n2000,60,1,35.2,139.3,200\n3000,70,2,35.3,139.4,5\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				if len(table.Rows) != 3 {
					t.Fatalf("row count = %d, want 3", len(table.Rows))
				}

				want := []int64{1000000, 2000000, 3000000}
				for i, ts := range tsValues(t, table) {
					if ts != want[i] {
						t.Errorf("timestamp_ms[%d] = %d, want %d", i, ts, want[i])
					}
				}

				if table.Rows[0].Speed == nil || *table.Rows[0].Speed != 50.5 {
					t.Errorf("speed[0] = %v, want 50.5", table.Rows[0].Speed)
				}
				if table.Rows[2].LapNumber != 2 {
					t.Errorf("lap_number[2] = %d, want 2", table.Rows[2].LapNumber)
				}
				if table.Rows[1].Latitude == nil || *table.Rows[1].Latitude != 35.2 {
					t.Errorf("latitude[1] = %v, want 35.2", table.Rows[1].Latitude)
				}
				if table.Rows[1].Longitude == nil || *table.Rows[1].Longitude != 139.3 {
					t.Errorf("longitude[1] = %v, want 139.3", table.Rows[1].Longitude)
				}
				if table.Rows[2].Distance == nil || *table.Rows[2].Distance != 5 {
					t.Errorf("distance[2] = %v, want 5", table.Rows[2].Distance)
				}

				if !table.Columns.Timestamp || !table.Columns.Speed || !table.Columns.LapNumber {
					t.Errorf("columns = %+v, want timestamp/speed/lap resolved", table.Columns)
				}
			},
		},
		{
			name: "timestamps already in milliseconds stay unchanged",
			csv:  "timestamp_ms,speed\n1700000000000,10\n1700000001000,20\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				want := []int64{1700000000000, 1700000001000}
				for i, ts := range tsValues(t, table) {
					if ts != want[i] {
						t.Errorf("timestamp_ms[%d] = %d, want %d", i, ts, want[i])
					}
				}
			},
		},
		{
			name: "speed alias priority prefers speed over velocity",
			csv:  "time,velocity,speed\n1,999,10\n2,999,20\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				for i, row := range table.Rows {
					if row.Speed == nil || *row.Speed == 999 {
						t.Errorf("speed[%d] = %v, want value from the speed column", i, row.Speed)
					}
				}
			},
		},
		{
			name: "velocity alone resolves as speed",
			csv:  "time,velocity\n1,42\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				if !table.Columns.Speed {
					t.Error("speed column should be resolved from velocity")
				}
				if table.Rows[0].Speed == nil || *table.Rows[0].Speed != 42 {
					t.Errorf("speed[0] = %v, want 42", table.Rows[0].Speed)
				}
			},
		},
		{
			name: "missing lap column defaults every row to 1",
			csv:  "time,speed\n1,10\n2,20\n3,30\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				for i, row := range table.Rows {
					if row.LapNumber != 1 {
						t.Errorf("lap_number[%d] = %d, want 1", i, row.LapNumber)
					}
				}
				if table.Columns.LapNumber {
					t.Error("lap column should not be marked as resolved")
				}
			},
		},
		{
			name: "unparseable lap cells collapse to 1",
			csv:  "time,lap\n1,3\n2,oops\n3,\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				want := []int{3, 1, 1}
				for i, row := range table.Rows {
					if row.LapNumber != want[i] {
						t.Errorf("lap_number[%d] = %d, want %d", i, row.LapNumber, want[i])
					}
				}
			},
		},
		{
			name: "bad numeric cells become null without failing the load",
			csv:  "time,speed,lat\n1,not-a-number,35.0\n2,20,broken\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				if table.Rows[0].Speed != nil {
					t.Errorf("speed[0] = %v, want null", table.Rows[0].Speed)
				}
				if table.Rows[1].Speed == nil || *table.Rows[1].Speed != 20 {
					t.Errorf("speed[1] = %v, want 20", table.Rows[1].Speed)
				}
				if table.Rows[1].Latitude != nil {
					t.Errorf("latitude[1] = %v, want null", table.Rows[1].Latitude)
				}
			},
		},
		{
			name: "header matching is case-insensitive",
			csv:  "TIME,Speed,LAT,Lon\n1,10,35.0,139.0\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				if !table.Columns.Speed || !table.Columns.Latitude || !table.Columns.Longitude {
					t.Errorf("columns = %+v, want speed/lat/lon resolved", table.Columns)
				}
			},
		},
		{
			name: "unmatched columns are dropped",
			csv:  "time,speed,tire_temp,notes\n1,10,80,hello\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				if table.Columns.Distance || table.Columns.Latitude {
					t.Errorf("columns = %+v, unexpected resolution", table.Columns)
				}
				if table.Rows[0].Distance != nil {
					t.Errorf("distance[0] = %v, want null", table.Rows[0].Distance)
				}
			},
		},
		{
			name: "datetime strings parse as UTC epoch milliseconds",
			csv:  "timestamp,speed\n2024-01-01T00:00:00,10\n2024-01-01 00:00:01,20\nnot-a-date,30\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				base := int64(1704067200000)
				if table.Rows[0].TimestampMS == nil || *table.Rows[0].TimestampMS != base {
					t.Errorf("timestamp_ms[0] = %v, want %d", table.Rows[0].TimestampMS, base)
				}
				if table.Rows[1].TimestampMS == nil || *table.Rows[1].TimestampMS != base+1000 {
					t.Errorf("timestamp_ms[1] = %v, want %d", table.Rows[1].TimestampMS, base+1000)
				}
				if table.Rows[2].TimestampMS != nil {
					t.Errorf("timestamp_ms[2] = %v, want null", table.Rows[2].TimestampMS)
				}
			},
		},
		{
			name: "zoned datetime strings convert to UTC",
			csv:  "timestamp,speed\n2024-01-01T09:00:00+09:00,10\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				if table.Rows[0].TimestampMS == nil || *table.Rows[0].TimestampMS != 1704067200000 {
					t.Errorf("timestamp_ms[0] = %v, want 1704067200000", table.Rows[0].TimestampMS)
				}
			},
		},
		{
			name: "no timestamp column synthesizes one sample per second",
			csv:  "speed,lap\n10,1\n20,1\n30,2\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				want := []int64{0, 1000, 2000}
				for i, ts := range tsValues(t, table) {
					if ts != want[i] {
						t.Errorf("timestamp_ms[%d] = %d, want %d", i, ts, want[i])
					}
				}
				if table.Columns.Timestamp {
					t.Error("timestamp column should not be marked as resolved")
				}
			},
		},
		{
			name: "mixed numeric and bad timestamp cells keep nulls",
			csv:  "time,speed\n100,10\nbogus,20\n300,30\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				if table.Rows[0].TimestampMS == nil || *table.Rows[0].TimestampMS != 100000 {
					t.Errorf("timestamp_ms[0] = %v, want 100000", table.Rows[0].TimestampMS)
				}
				if table.Rows[1].TimestampMS != nil {
					t.Errorf("timestamp_ms[1] = %v, want null", table.Rows[1].TimestampMS)
				}
				if table.Rows[2].TimestampMS == nil || *table.Rows[2].TimestampMS != 300000 {
					t.Errorf("timestamp_ms[2] = %v, want 300000", table.Rows[2].TimestampMS)
				}
			},
		},
		{
			name: "optional summary columns resolve by alias",
			csv:  "time,avg_speed,elapsed_ms,lap_ms\n1,55.5,60000,30000\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				row := table.Rows[0]
				if row.AverageSpeed == nil || *row.AverageSpeed != 55.5 {
					t.Errorf("average_speed = %v, want 55.5", row.AverageSpeed)
				}
				if row.TotalTimeMS == nil || *row.TotalTimeMS != 60000 {
					t.Errorf("total_time_ms = %v, want 60000", row.TotalTimeMS)
				}
				if row.LapTimeMS == nil || *row.LapTimeMS != 30000 {
					t.Errorf("lap_time_ms = %v, want 30000", row.LapTimeMS)
				}
			},
		},
		{
			name: "zero data rows produce an empty table",
			csv:  "time,speed,lap\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				if len(table.Rows) != 0 {
					t.Errorf("row count = %d, want 0", len(table.Rows))
				}
				if !table.Columns.Speed {
					t.Error("speed column should still be resolved from the header")
				}
			},
		},
		{
			name: "short rows pad missing cells with nulls",
			csv:  "time,speed,lap\n1,10,1\n2\n3,30,2\n",
			checkValues: func(t *testing.T, table *models.CanonicalTable) {
				if len(table.Rows) != 3 {
					t.Fatalf("row count = %d, want 3", len(table.Rows))
				}

				want := []int64{1000, 2000, 3000}
				for i, ts := range tsValues(t, table) {
					if ts != want[i] {
						t.Errorf("timestamp_ms[%d] = %d, want %d", i, ts, want[i])
					}
				}

				if table.Rows[1].Speed != nil {
					t.Errorf("speed[1] = %v, want null", table.Rows[1].Speed)
				}
				if table.Rows[1].LapNumber != 1 {
					t.Errorf("lap_number[1] = %d, want 1", table.Rows[1].LapNumber)
				}
				if table.Rows[2].Speed == nil || *table.Rows[2].Speed != 30 {
					t.Errorf("speed[2] = %v, want 30", table.Rows[2].Speed)
				}
			},
		},
		{
			name:    "rows wider than the header fail as malformed input",
			csv:     "time,speed\n1,10,extra\n",
			wantErr: true,
		},
		{
			name:    "empty input fails as malformed input",
			csv:     "",
			wantErr: true,
		},
		{
			name:    "unterminated quote fails as malformed input",
			csv:     "time,speed\n1,\"broken\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := newTestNormalizer().Normalize(context.Background(), []byte(tt.csv))

			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				var malformed *models.MalformedInputError
				if !errors.As(err, &malformed) {
					t.Errorf("error = %v, want MalformedInputError", err)
				}
				return
			}

			if tt.checkValues != nil {
				tt.checkValues(t, table)
			}
		})
	}
}

func TestNormalizer_UnitInferenceThreshold(t *testing.T) {
	// Values at the threshold are seconds; values above it are
	// already milliseconds. The boundary is deliberately exact.
	tests := []struct {
		name string
		csv  string
		want []int64
	}{
		{
			name: "median above 1e11 treated as milliseconds",
			csv:  "time\n100000000001\n100000000002\n100000000003\n",
			want: []int64{100000000001, 100000000002, 100000000003},
		},
		{
			name: "median at 1e11 treated as seconds",
			csv:  "time\n99999999999\n100000000000\n100000000001\n",
			want: []int64{99999999999000, 100000000000000, 100000000001000},
		},
		{
			name: "even row count uses the middle pair average",
			csv:  "time\n1\n200000000001\n200000000002\n200000000003\n",
			want: []int64{1, 200000000001, 200000000002, 200000000003},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := newTestNormalizer().Normalize(context.Background(), []byte(tt.csv))
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}

			for i, ts := range tsValues(t, table) {
				if ts != tt.want[i] {
					t.Errorf("timestamp_ms[%d] = %d, want %d", i, ts, tt.want[i])
				}
			}
		})
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"single value", []float64{5}, 5},
		{"odd count", []float64{3, 1, 2}, 2},
		{"even count", []float64{4, 1, 3, 2}, 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := median(tt.values); got != tt.want {
				t.Errorf("median(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}
