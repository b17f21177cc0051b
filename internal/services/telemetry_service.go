package services

import (
	"context"

	"telemetry-platform/internal/cache"
	"telemetry-platform/internal/models"
	"telemetry-platform/pkg/logging"
	"telemetry-platform/pkg/metrics"
)

// TelemetryService runs the full pipeline: raw bytes through the
// column normalizer into the derived-series builder. An optional table
// cache short-circuits normalization for byte-identical uploads.
type TelemetryService struct {
	normalizer *NormalizerService
	deriver    *DeriverService
	cache      *cache.TableCache
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewTelemetryService creates a new telemetry service. tableCache may
// be nil to disable memoization.
func NewTelemetryService(
	normalizer *NormalizerService,
	deriver *DeriverService,
	tableCache *cache.TableCache,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *TelemetryService {
	return &TelemetryService{
		normalizer: normalizer,
		deriver:    deriver,
		cache:      tableCache,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// Process normalizes raw CSV bytes and derives the presentation-ready
// table for the given options.
func (s *TelemetryService) Process(ctx context.Context, raw []byte, opts models.DeriveOptions) (*models.DerivedTable, error) {
	canonical, err := s.Canonical(ctx, raw)
	if err != nil {
		return nil, err
	}
	return s.deriver.Derive(ctx, canonical, opts)
}

// Canonical returns the canonical table for raw bytes, consulting the
// cache when one is configured. Cached tables are shared, immutable
// snapshots; callers must not modify them.
func (s *TelemetryService) Canonical(ctx context.Context, raw []byte) (*models.CanonicalTable, error) {
	if s.cache == nil {
		return s.normalizer.Normalize(ctx, raw)
	}

	key := cache.KeyFor(raw)
	if table, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheHit()
		s.logger.Debug(ctx, "[PIPELINE_CACHE_HIT] Reusing normalized table", logging.Fields{
			"input_bytes": len(raw),
		})
		return table, nil
	}
	s.metrics.RecordCacheMiss()

	table, err := s.normalizer.Normalize(ctx, raw)
	if err != nil {
		return nil, err
	}

	s.cache.Put(key, table)
	s.metrics.CacheEntries.Set(float64(s.cache.Len()))
	return table, nil
}
