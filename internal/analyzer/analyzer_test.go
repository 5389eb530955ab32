package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/vidfeatures/internal/extractor"
	"github.com/bdougie/vidfeatures/internal/storage"
)

type countingReporter struct {
	mu       sync.Mutex
	n        int
	finished bool
}

func (r *countingReporter) Add(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n += n
}

func (r *countingReporter) Finish() { r.finished = true }

func newTestProcessor(t *testing.T, cfg Config, deps Deps) *Processor {
	t.Helper()
	if cfg.FeatureType == "" {
		cfg.FeatureType = "efficientnet_v2_s"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 4
	}
	if deps.Backbone == nil {
		deps.Backbone = &fakeBackbone{}
	}
	if deps.Sink == nil {
		deps.Sink = storage.NewMemorySink()
	}
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	p, err := NewProcessor(cfg, deps)
	require.NoError(t, err)
	return p
}

func TestRunOneReadableOneUnreadable(t *testing.T) {
	opener := newFakeOpener()
	opener.add("A.mp4", fakeVideo{fps: 30, frames: 10})
	sink := storage.NewMemorySink()
	backbone := &fakeBackbone{}
	reporter := &countingReporter{}

	p := newTestProcessor(t, Config{BatchSize: 4}, Deps{
		Backbone: backbone,
		Opener:   opener,
		Sink:     sink,
		Progress: reporter,
	})

	summary, err := p.Run(context.Background(), []string{"A.mp4", "B.mp4"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "B.mp4", summary.Failed[0].Path)
	assert.Equal(t, 2, summary.Total())
	assert.Equal(t, 2, reporter.n)

	rec, ok := sink.Get("A.mp4")
	require.True(t, ok)
	assert.Len(t, rec.Features, 10)
	assert.Len(t, rec.TimestampsMs, 10)
	assert.Equal(t, 30.0, rec.FPS)
	assert.Equal(t, "efficientnet_v2_s", rec.FeatureType)
	assert.InDelta(t, 0, rec.TimestampsMs[0], 1e-9)
	assert.InDelta(t, 300, rec.TimestampsMs[9], 1e-9)
	for i := 1; i < len(rec.TimestampsMs); i++ {
		assert.Greater(t, rec.TimestampsMs[i], rec.TimestampsMs[i-1])
	}

	_, ok = sink.Get("B.mp4")
	assert.False(t, ok)
	assert.Equal(t, []int{4, 4, 2}, backbone.sizes)
	assert.Equal(t, 1, opener.closedCount())
}

func TestBatchSizeDoesNotChangeFeatures(t *testing.T) {
	var want [][]float32
	for _, size := range []int{1, 3, 7, 10} {
		opener := newFakeOpener()
		opener.add("a.mp4", fakeVideo{fps: 25, frames: 7})
		sink := storage.NewMemorySink()

		p := newTestProcessor(t, Config{BatchSize: size}, Deps{Opener: opener, Sink: sink})
		_, err := p.Run(context.Background(), []string{"a.mp4"})
		require.NoError(t, err)

		rec, ok := sink.Get("a.mp4")
		require.True(t, ok)
		require.Len(t, rec.Features, 7)
		if want == nil {
			want = rec.Features
			continue
		}
		assert.Equal(t, want, rec.Features, "batch size %d", size)
	}

	// rows follow frame order
	for i := 1; i < len(want); i++ {
		assert.Greater(t, want[i][0], want[i-1][0])
	}
}

func TestFirstFailedReadIsRetriedOnce(t *testing.T) {
	opener := newFakeOpener()
	opener.add("once.mp4", fakeVideo{fps: 30, frames: 5, failReads: 1})
	opener.add("twice.mp4", fakeVideo{fps: 30, frames: 5, failReads: 2})
	sink := storage.NewMemorySink()

	p := newTestProcessor(t, Config{}, Deps{Opener: opener, Sink: sink})
	summary, err := p.Run(context.Background(), []string{"once.mp4", "twice.mp4"})
	require.NoError(t, err)

	rec, ok := sink.Get("once.mp4")
	require.True(t, ok)
	assert.Len(t, rec.Features, 5)

	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "twice.mp4", summary.Failed[0].Path)
	assert.True(t, errors.Is(summary.Failed[0].Err, ErrNoFrames))
}

func TestVideoWithoutFramesIsAFailure(t *testing.T) {
	opener := newFakeOpener()
	opener.add("empty.mp4", fakeVideo{fps: 30})
	sink := storage.NewMemorySink()

	p := newTestProcessor(t, Config{}, Deps{Opener: opener, Sink: sink})
	_, err := p.Extract(context.Background(), "empty.mp4")
	assert.True(t, errors.Is(err, ErrNoFrames))
	assert.Zero(t, sink.Len())
	assert.Equal(t, 1, opener.closedCount())
}

func TestNoReencodeWhenRatesMatch(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "efficientnet_v2_s")
	opener := newFakeOpener()
	opener.add("a.mp4", fakeVideo{fps: 30, frames: 3})
	reencoder := &fakeReencoder{tmpDir: tmpDir, opener: opener, frames: 1}

	p := newTestProcessor(t, Config{ExtractionFPS: 30}, Deps{Opener: opener, Reencoder: reencoder})
	rec, err := p.Extract(context.Background(), "a.mp4")
	require.NoError(t, err)

	assert.Zero(t, reencoder.calls)
	assert.Empty(t, tmpDirEntries(tmpDir))
	assert.Len(t, rec.Features, 3)
	assert.Equal(t, 30.0, rec.FPS)
}

func TestReencodedCopyIsRemoved(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "efficientnet_v2_s")
	opener := newFakeOpener()
	opener.add("/videos/a.mp4", fakeVideo{fps: 30, frames: 10})
	reencoder := &fakeReencoder{tmpDir: tmpDir, opener: opener, frames: 2}

	p := newTestProcessor(t, Config{ExtractionFPS: 5}, Deps{Opener: opener, Reencoder: reencoder})
	rec, err := p.Extract(context.Background(), "/videos/a.mp4")
	require.NoError(t, err)

	tmpPath := extractor.TmpPath(tmpDir, "/videos/a.mp4")
	assert.Equal(t, 1, reencoder.calls)
	assert.Equal(t, []string{"/videos/a.mp4", tmpPath}, opener.opened)
	assert.Equal(t, 2, opener.closedCount())
	assert.Equal(t, 5.0, rec.FPS)
	assert.Len(t, rec.Features, 2)
	assert.Len(t, rec.TimestampsMs, 2)
	assert.InDelta(t, 200, rec.TimestampsMs[1], 1e-9)

	_, err = os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(err))
}

func TestReencodedCopyIsKept(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "efficientnet_v2_s")
	opener := newFakeOpener()
	opener.add("a.mp4", fakeVideo{fps: 30, frames: 10})
	reencoder := &fakeReencoder{tmpDir: tmpDir, opener: opener, frames: 2}

	p := newTestProcessor(t, Config{ExtractionFPS: 5, KeepTmpFiles: true}, Deps{Opener: opener, Reencoder: reencoder})
	_, err := p.Extract(context.Background(), "a.mp4")
	require.NoError(t, err)

	_, err = os.Stat(extractor.TmpPath(tmpDir, "a.mp4"))
	assert.NoError(t, err)
}

func TestBatchFailureDropsWholeVideo(t *testing.T) {
	opener := newFakeOpener()
	opener.add("a.mp4", fakeVideo{fps: 30, frames: 10})
	opener.add("b.mp4", fakeVideo{fps: 30, frames: 3})
	sink := storage.NewMemorySink()

	p := newTestProcessor(t, Config{BatchSize: 4}, Deps{
		Backbone: &fakeBackbone{failOn: 2},
		Opener:   opener,
		Sink:     sink,
	})
	summary, err := p.Run(context.Background(), []string{"a.mp4", "b.mp4"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "a.mp4", summary.Failed[0].Path)
	assert.Equal(t, []string{"b.mp4"}, sink.Paths())
	assert.Equal(t, 2, opener.closedCount())
}

func TestInterruptAbortsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opener := newFakeOpener()
	opener.add("a.mp4", fakeVideo{fps: 30, frames: 10})
	opener.add("b.mp4", fakeVideo{fps: 30, frames: 10})
	sink := storage.NewMemorySink()

	p := newTestProcessor(t, Config{BatchSize: 2}, Deps{
		Backbone: &fakeBackbone{onCall: cancel},
		Opener:   opener,
		Sink:     sink,
	})
	summary, err := p.Run(ctx, []string{"a.mp4", "b.mp4"})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, summary.Failed)
	assert.Zero(t, sink.Len())
	assert.Equal(t, []string{"a.mp4"}, opener.opened)
	assert.Equal(t, 1, opener.closedCount())
}

func TestShowPredictions(t *testing.T) {
	opener := newFakeOpener()
	opener.add("a.mp4", fakeVideo{fps: 30, frames: 6})
	preview := &recordingPreview{}

	p := newTestProcessor(t, Config{BatchSize: 4, ShowPred: true}, Deps{
		Opener:  opener,
		Head:    fakeHead{},
		Preview: preview,
	})
	_, err := p.Extract(context.Background(), "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, 6, preview.rows)
}

func TestNewProcessorValidates(t *testing.T) {
	opener := newFakeOpener()
	base := Deps{Backbone: &fakeBackbone{}, Opener: opener, Sink: storage.NewMemorySink()}

	_, err := NewProcessor(Config{BatchSize: 0}, base)
	assert.Error(t, err)

	_, err = NewProcessor(Config{BatchSize: 1, ExtractionFPS: 5}, base)
	assert.Error(t, err)

	_, err = NewProcessor(Config{BatchSize: 1, ShowPred: true}, base)
	assert.Error(t, err)

	_, err = NewProcessor(Config{BatchSize: 1}, Deps{Opener: opener})
	assert.Error(t, err)

	_, err = NewProcessor(Config{BatchSize: 1}, base)
	assert.NoError(t, err)
}

func TestUndecodableFrameFailsVideo(t *testing.T) {
	opener := newFakeOpener()
	opener.add("a.mp4", fakeVideo{fps: 30, frames: 10, badFrame: 6})
	opener.add("b.mp4", fakeVideo{fps: 30, frames: 3})
	sink := storage.NewMemorySink()

	p := newTestProcessor(t, Config{BatchSize: 4}, Deps{Opener: opener, Sink: sink})
	summary, err := p.Run(context.Background(), []string{"a.mp4", "b.mp4"})
	require.NoError(t, err)

	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "a.mp4", summary.Failed[0].Path)
	assert.True(t, errors.Is(summary.Failed[0].Err, extractor.ErrUnsupportedFrame))
	assert.Equal(t, []string{"b.mp4"}, sink.Paths())
	assert.Equal(t, 2, opener.closedCount())
}

func TestUndecodableFirstFrameIsNotRetried(t *testing.T) {
	opener := newFakeOpener()
	opener.add("a.mp4", fakeVideo{fps: 30, frames: 5, badFrame: 1})

	p := newTestProcessor(t, Config{}, Deps{Opener: opener})
	_, err := p.Extract(context.Background(), "a.mp4")
	assert.True(t, errors.Is(err, extractor.ErrUnsupportedFrame))
}
