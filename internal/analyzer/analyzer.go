package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bdougie/vidfeatures/internal/embeddings"
	"github.com/bdougie/vidfeatures/internal/extractor"
	"github.com/bdougie/vidfeatures/internal/metrics"
	"github.com/bdougie/vidfeatures/internal/models"
	"github.com/bdougie/vidfeatures/internal/preprocess"
	"github.com/bdougie/vidfeatures/internal/progress"
	"github.com/bdougie/vidfeatures/internal/storage"
	"github.com/bdougie/vidfeatures/internal/tracing"
)

// ErrNoFrames is returned when not a single frame of a video could be decoded
var ErrNoFrames = errors.New("no frames could be decoded")

// fpsTolerance is how close a target rate must be to the native one to skip re-encoding
const fpsTolerance = 1e-3

// Previewer shows class predictions for a batch of frames
type Previewer interface {
	Show(logits [][]float32) error
}

// Config holds the per-run extraction settings of a Processor
type Config struct {
	FeatureType   string
	BatchSize     int
	ExtractionFPS float64 // 0 keeps the native rate
	KeepTmpFiles  bool
	ShowPred      bool
}

// Deps are the collaborators a Processor drives
type Deps struct {
	Backbone  embeddings.Backbone
	Head      embeddings.Head
	Opener    extractor.Opener
	Reencoder extractor.Reencoder
	Sink      storage.Sink
	Preview   Previewer
	Progress  progress.Reporter
	Logger    *slog.Logger
	Device    string
}

// Processor extracts features from videos one at a time on a single device
type Processor struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	tracer trace.Tracer
}

func NewProcessor(cfg Config, deps Deps) (*Processor, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if deps.Backbone == nil || deps.Opener == nil || deps.Sink == nil {
		return nil, errors.New("processor needs a backbone, an opener and a sink")
	}
	if cfg.ExtractionFPS > 0 && deps.Reencoder == nil {
		return nil, errors.New("a target fps needs a re-encoder")
	}
	if cfg.ShowPred && (deps.Head == nil || deps.Preview == nil) {
		return nil, errors.New("prediction preview needs a classifier head and a previewer")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Device == "" {
		deps.Device = embeddings.CPU.String()
	}

	return &Processor{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "analyzer", "device", deps.Device),
		tracer: tracing.Tracer("analyzer"),
	}, nil
}

// Run processes paths in order; per-video failures are collected and only cancellation aborts
func (p *Processor) Run(ctx context.Context, paths []string) (*Summary, error) {
	summary := &Summary{}
	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	for i, videoPath := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		err := p.ProcessVideo(ctx, models.WorkItem{
			VideoPath: videoPath,
			VideoNum:  i + 1,
			Total:     len(paths),
		})
		p.deps.Progress.Add(1)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				p.logger.Warn("interrupted", "video", videoPath)
				return summary, ctxErr
			}
			p.logger.Error("failed to process video", "video", videoPath, "error", err)
			summary.Failed = append(summary.Failed, Failure{Path: videoPath, Err: err})
			continue
		}
		summary.Succeeded++
	}
	return summary, nil
}

// ProcessVideo extracts the features of one video and hands them to the sink
func (p *Processor) ProcessVideo(ctx context.Context, item models.WorkItem) error {
	start := time.Now()
	p.logger.Info("processing video", "video", item.VideoPath, "num", item.VideoNum, "total", item.Total)

	rec, err := p.Extract(ctx, item.VideoPath)
	if err == nil {
		err = p.deps.Sink.Write(ctx, item.VideoPath, rec)
	}

	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.VideosProcessedTotal.WithLabelValues(p.cfg.FeatureType, status).Inc()
	metrics.VideoDuration.WithLabelValues(p.cfg.FeatureType).Observe(time.Since(start).Seconds())
	return err
}

// Extract decodes a video, runs every frame through the backbone and returns the record.
// Nothing is returned unless every batch succeeded.
func (p *Processor) Extract(ctx context.Context, videoPath string) (*models.Record, error) {
	ctx, span := p.tracer.Start(ctx, "extract",
		trace.WithAttributes(attribute.String("video.path", videoPath)))
	defer span.End()

	rec, err := p.extract(ctx, videoPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("video.frames", len(rec.Features)))
	return rec, nil
}

func (p *Processor) extract(ctx context.Context, videoPath string) (*models.Record, error) {
	stream, err := p.deps.Opener.Open(videoPath)
	if err != nil {
		return nil, err
	}

	if p.needsReencode(stream.FPS()) {
		if err := stream.Close(); err != nil {
			p.logger.Warn("failed to close video", "video", videoPath, "error", err)
		}

		tmpPath, err := p.deps.Reencoder.Reencode(ctx, videoPath, p.cfg.ExtractionFPS)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode '%s': %w", videoPath, err)
		}
		if !p.cfg.KeepTmpFiles {
			// registered before the stream close below so it runs after it
			defer p.removeTmp(tmpPath)
		}

		stream, err = p.deps.Opener.Open(tmpPath)
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		if err := stream.Close(); err != nil {
			p.logger.Warn("failed to close video", "video", videoPath, "error", err)
		}
	}()

	return p.readFrames(ctx, videoPath, stream)
}

func (p *Processor) needsReencode(nativeFPS float64) bool {
	return p.cfg.ExtractionFPS > 0 && math.Abs(p.cfg.ExtractionFPS-nativeFPS) > fpsTolerance
}

func (p *Processor) removeTmp(tmpPath string) {
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("failed to remove re-encoded video", "path", tmpPath, "error", err)
	}
}

func (p *Processor) readFrames(ctx context.Context, videoPath string, stream extractor.Stream) (*models.Record, error) {
	rec := &models.Record{FeatureType: p.cfg.FeatureType, FPS: stream.FPS()}
	batch := preprocess.NewBatch(p.cfg.BatchSize)
	retried := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, ok := stream.Next()
		if !ok {
			if err := stream.Err(); err != nil {
				return nil, fmt.Errorf("failed to decode frame %d of '%s': %w", len(rec.TimestampsMs), videoPath, err)
			}
			// some containers fail the very first read; give them one more try
			if len(rec.TimestampsMs) == 0 && !retried {
				retried = true
				continue
			}
			break
		}

		rgb, err := preprocess.ToRGB(frame)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", len(rec.TimestampsMs), err)
		}
		tensor, err := preprocess.Transform(rgb)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", len(rec.TimestampsMs), err)
		}
		if err := batch.Append(tensor); err != nil {
			return nil, err
		}
		rec.TimestampsMs = append(rec.TimestampsMs, frame.TimestampMs)

		if batch.Len() == p.cfg.BatchSize {
			if err := p.flush(ctx, batch, rec); err != nil {
				return nil, err
			}
		}
	}

	if batch.Len() > 0 {
		if err := p.flush(ctx, batch, rec); err != nil {
			return nil, err
		}
	}

	if len(rec.Features) == 0 {
		return nil, fmt.Errorf("%w: '%s'", ErrNoFrames, videoPath)
	}
	return rec, nil
}

func (p *Processor) flush(ctx context.Context, batch *preprocess.Batch, rec *models.Record) error {
	rows, err := p.runBatch(ctx, batch)
	if err != nil {
		return err
	}
	rec.Features = append(rec.Features, rows...)
	batch.Reset()
	return nil
}

// runBatch runs the backbone on a batch and, when enabled, previews the predicted classes
func (p *Processor) runBatch(ctx context.Context, batch *preprocess.Batch) ([][]float32, error) {
	ctx, span := p.tracer.Start(ctx, "batch",
		trace.WithAttributes(attribute.Int("batch.size", batch.Len())))
	defer span.End()

	start := time.Now()
	rows, err := p.deps.Backbone.Embed(ctx, batch)
	metrics.BatchDuration.WithLabelValues(p.cfg.FeatureType, p.deps.Device).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("backbone forward pass: %w", err)
	}
	if len(rows) != batch.Len() {
		return nil, fmt.Errorf("backbone returned %d rows for %d frames", len(rows), batch.Len())
	}
	metrics.FramesExtractedTotal.WithLabelValues(p.cfg.FeatureType).Add(float64(len(rows)))

	if p.cfg.ShowPred {
		logits, err := p.deps.Head.Classify(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("classifier head: %w", err)
		}
		if err := p.deps.Preview.Show(logits); err != nil {
			return nil, fmt.Errorf("show predictions: %w", err)
		}
	}
	return rows, nil
}
