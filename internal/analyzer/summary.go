package analyzer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/vidfeatures/internal/paths"
)

// Failure is a video that produced no record
type Failure struct {
	Path string
	Err  error
}

// Summary is the outcome of a run
type Summary struct {
	Succeeded int
	Failed    []Failure
}

// Total is the number of videos that were attempted
func (s *Summary) Total() int {
	return s.Succeeded + len(s.Failed)
}

// Merge adds the outcome of another run
func (s *Summary) Merge(other *Summary) {
	if other == nil {
		return
	}
	s.Succeeded += other.Succeeded
	s.Failed = append(s.Failed, other.Failed...)
}

// Err joins the per-video errors, or returns nil when every video succeeded
func (s *Summary) Err() error {
	errs := make([]error, len(s.Failed))
	for i, f := range s.Failed {
		errs[i] = fmt.Errorf("%s: %w", f.Path, f.Err)
	}
	return errors.Join(errs...)
}

// RunSharded splits list across processors, one per device, and runs them concurrently
func RunSharded(ctx context.Context, processors []*Processor, list []string) (*Summary, error) {
	if len(processors) == 0 {
		return nil, errors.New("no processors to run")
	}
	if len(processors) == 1 {
		return processors[0].Run(ctx, list)
	}

	shards := paths.Shard(list, len(processors))
	summaries := make([]*Summary, len(processors))

	g, gctx := errgroup.WithContext(ctx)
	for i, proc := range processors {
		g.Go(func() error {
			s, err := proc.Run(gctx, shards[i])
			summaries[i] = s
			return err
		})
	}
	err := g.Wait()

	merged := &Summary{}
	for _, s := range summaries {
		merged.Merge(s)
	}
	return merged, err
}
