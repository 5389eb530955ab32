package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bdougie/vidfeatures/internal/models"
)

// PrintSink writes a short summary of every record to a console
type PrintSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewPrintSink(out io.Writer) *PrintSink {
	return &PrintSink{out: out}
}

func (p *PrintSink) Write(_ context.Context, videoPath string, rec *models.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out, videoPath)
	fmt.Fprintln(p.out, rec.FeatureType)
	fmt.Fprintf(p.out, "shape: (%d, %d)\n", len(rec.Features), rec.Dim())
	fmt.Fprintln(p.out, formatStats(flatten32(rec.Features)))

	fmt.Fprintln(p.out, "fps")
	fmt.Fprintln(p.out, "shape: ()")
	fmt.Fprintln(p.out, formatStats([]float64{rec.FPS}))

	fmt.Fprintln(p.out, "timestamps_ms")
	fmt.Fprintf(p.out, "shape: (%d,)\n", len(rec.TimestampsMs))
	_, err := fmt.Fprintln(p.out, formatStats(rec.TimestampsMs))
	return err
}

func (p *PrintSink) Close() error { return nil }

func formatStats(values []float64) string {
	if len(values) == 0 {
		return "empty"
	}
	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += v
	}
	return fmt.Sprintf("max: %.8f; mean: %.8f; min: %.8f", hi, sum/float64(len(values)), lo)
}

func flatten32(rows [][]float32) []float64 {
	var out []float64
	for _, row := range rows {
		for _, v := range row {
			out = append(out, float64(v))
		}
	}
	return out
}
