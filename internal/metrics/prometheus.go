package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VideosProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidfeatures_videos_processed_total",
		Help: "Total number of videos processed, by status",
	}, []string{"feature_type", "status"})

	FramesExtractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidfeatures_frames_extracted_total",
		Help: "Total number of frames turned into feature vectors",
	}, []string{"feature_type"})

	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidfeatures_batch_duration_seconds",
		Help:    "Duration of one backbone forward pass",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"feature_type", "device"})

	VideoDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidfeatures_video_duration_seconds",
		Help:    "Duration of processing one video end to end",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"feature_type"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidfeatures_active_workers",
		Help: "Number of devices currently processing videos",
	})
)
