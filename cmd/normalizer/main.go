package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"telemetry-platform/internal/config"
	"telemetry-platform/internal/models"
	"telemetry-platform/internal/services"
	"telemetry-platform/pkg/logging"
	"telemetry-platform/pkg/metrics"
)

// output mirrors the API view response so the CLI and the server emit
// the same shape.
type output struct {
	Data     []models.DerivedRecord `json:"data"`
	Presence models.PresenceFlags   `json:"presence"`
	Columns  models.ColumnSet       `json:"columns"`
	Laps     []int                  `json:"laps"`
	Timezone string                 `json:"timezone"`
	RowCount int                    `json:"row_count"`
}

func main() {
	// Parse command-line flags
	inputPath := flag.String("input", "", "Path to the telemetry CSV file")
	outputPath := flag.String("output", "", "Path for the JSON output (default stdout)")
	timezone := flag.String("timezone", "", "IANA timezone for time_local (default from config)")
	smoothingWindow := flag.Int("smoothing-window", 0, "Odd moving-average window 1-21 (default from config)")
	laps := flag.String("laps", "", "Comma-separated lap numbers to keep (default all)")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "missing required flag: -input")
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("telemetry-normalizer", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	logger.SetOutput(os.Stderr)

	ctx := context.Background()

	opts := models.DeriveOptions{
		Timezone:        cfg.Pipeline.DefaultTimezone,
		SmoothingWindow: cfg.Pipeline.DefaultSmoothingWindow,
	}
	if *timezone != "" {
		opts.Timezone = *timezone
	}
	if *smoothingWindow != 0 {
		opts.SmoothingWindow = *smoothingWindow
	}
	if err := opts.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid options: %v\n", err)
		os.Exit(2)
	}

	selectedLaps, err := parseLaps(*laps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -laps: %v\n", err)
		os.Exit(2)
	}

	raw, err := os.ReadFile(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read input: %v\n", err)
		os.Exit(1)
	}

	logger.Info(ctx, "[NORMALIZER_START] Processing telemetry file", logging.Fields{
		"input":            *inputPath,
		"input_bytes":      len(raw),
		"timezone":         opts.Timezone,
		"smoothing_window": opts.SmoothingWindow,
	})

	// Initialize pipeline; a single run has no use for the cache
	metricsCollector := metrics.NewCollector("telemetry_normalizer", prometheus.NewRegistry())
	normalizer := services.NewNormalizerService(logger, metricsCollector)
	deriver := services.NewDeriverService(logger, metricsCollector)
	telemetryService := services.NewTelemetryService(normalizer, deriver, nil, logger, metricsCollector)

	table, err := telemetryService.Process(ctx, raw, opts)
	if err != nil {
		var malformed *models.MalformedInputError
		if errors.As(err, &malformed) {
			fmt.Fprintf(os.Stderr, "Input is not valid CSV: %v\n", err)
			os.Exit(1)
		}
		logger.Error(ctx, "[NORMALIZER_ERROR] Pipeline failed", logging.Fields{
			"input": *inputPath,
		}, err)
		os.Exit(1)
	}

	filtered := table.FilterLaps(selectedLaps)

	result := output{
		Data:     filtered.Rows,
		Presence: filtered.Presence,
		Columns:  filtered.Columns,
		Laps:     table.Laps(),
		Timezone: filtered.Timezone,
		RowCount: len(filtered.Rows),
	}

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		os.Exit(1)
	}

	logger.Info(ctx, "[NORMALIZER_COMPLETE] Telemetry processed", logging.Fields{
		"row_count": result.RowCount,
		"laps":      result.Laps,
		"timezone":  result.Timezone,
	})
}

// parseLaps parses a comma-separated lap selection; empty keeps all.
func parseLaps(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	laps := make([]int, 0, len(parts))
	for _, part := range parts {
		lap, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("expected integer lap number, got %q", part)
		}
		laps = append(laps, lap)
	}
	return laps, nil
}
