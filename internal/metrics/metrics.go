// Package metrics exposes the pipeline's observability events as
// prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds every metric the pipelines emit, registered on a private
// registry so tests can construct isolated instances.
type Set struct {
	registry *prometheus.Registry

	ObjectsProcessed *prometheus.CounterVec
	FailedDownloads  *prometheus.CounterVec
	FailedUploads    *prometheus.CounterVec
	SkippedObjects   *prometheus.CounterVec

	BytesSaved      *prometheus.CounterVec
	TransferSavings *prometheus.CounterVec
	ComputeCost     *prometheus.CounterVec
	NetBenefit      *prometheus.GaugeVec

	CompressionRatio     prometheus.Histogram
	CompressionSeconds   prometheus.Histogram
	DecompressionSeconds prometheus.Histogram
	ObjectSeconds        prometheus.Histogram
}

// New builds and registers the full metric set. pipeline is "source" or
// "target" and becomes a constant label.
func New(pipeline string) *Set {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"pipeline": pipeline}
	keyLabels := []string{"key"}

	s := &Set{
		registry: reg,
		ObjectsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "s3xrc_objects_processed_total",
			Help:        "Objects successfully processed.",
			ConstLabels: constLabels,
		}, keyLabels),
		FailedDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "s3xrc_failed_downloads_total",
			Help:        "Objects that could not be downloaded.",
			ConstLabels: constLabels,
		}, keyLabels),
		FailedUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "s3xrc_failed_uploads_total",
			Help:        "Objects that could not be uploaded.",
			ConstLabels: constLabels,
		}, keyLabels),
		SkippedObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "s3xrc_skipped_objects_total",
			Help:        "Manifest entries with no target in this region.",
			ConstLabels: constLabels,
		}, keyLabels),
		BytesSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "s3xrc_bytes_saved_total",
			Help:        "Bytes saved by compression.",
			ConstLabels: constLabels,
		}, keyLabels),
		TransferSavings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "s3xrc_transfer_savings_dollars_total",
			Help:        "Estimated cross-region transfer savings.",
			ConstLabels: constLabels,
		}, keyLabels),
		ComputeCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "s3xrc_compute_cost_dollars_total",
			Help:        "Estimated compute cost spent compressing.",
			ConstLabels: constLabels,
		}, keyLabels),
		NetBenefit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "s3xrc_net_benefit_dollars",
			Help:        "Net benefit of the most recent batch.",
			ConstLabels: constLabels,
		}, keyLabels),
		CompressionRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "s3xrc_compression_ratio",
			Help:        "Original size over compressed size per archive.",
			ConstLabels: constLabels,
			Buckets:     []float64{1, 1.5, 2, 3, 5, 8, 13, 21, 34},
		}),
		CompressionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "s3xrc_compression_seconds",
			Help:        "Wall-clock archive compression time.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		DecompressionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "s3xrc_decompression_seconds",
			Help:        "Wall-clock archive decompression time.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ObjectSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "s3xrc_object_processing_seconds",
			Help:        "End-to-end per-object processing time.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}

	reg.MustRegister(
		s.ObjectsProcessed, s.FailedDownloads, s.FailedUploads, s.SkippedObjects,
		s.BytesSaved, s.TransferSavings, s.ComputeCost, s.NetBenefit,
		s.CompressionRatio, s.CompressionSeconds, s.DecompressionSeconds, s.ObjectSeconds,
	)
	return s
}

// Handler serves the set's registry in the prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Gather exposes the raw registry for tests.
func (s *Set) Gather() prometheus.Gatherer {
	return s.registry
}

// Timed runs fn and records its wall-clock duration on obs.
func Timed(obs prometheus.Observer, fn func() error) error {
	start := time.Now()
	err := fn()
	obs.Observe(time.Since(start).Seconds())
	return err
}
