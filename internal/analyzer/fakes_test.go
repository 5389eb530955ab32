package analyzer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdougie/vidfeatures/internal/extractor"
	"github.com/bdougie/vidfeatures/internal/models"
	"github.com/bdougie/vidfeatures/internal/preprocess"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVideo describes what a fake stream yields
type fakeVideo struct {
	fps       float64
	frames    int
	failReads int // leading reads that fail before frames come out
	badFrame  int // 1-based frame that cannot be decoded, 0 never
	openErr   error
}

type fakeOpener struct {
	mu     sync.Mutex
	videos map[string]fakeVideo
	opened []string
	closed int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{videos: make(map[string]fakeVideo)}
}

func (o *fakeOpener) add(path string, v fakeVideo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.videos[path] = v
}

func (o *fakeOpener) Open(path string) (extractor.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, path)

	v, ok := o.videos[path]
	if !ok {
		return nil, errors.New("video file does not exist at path: '" + path + "'")
	}
	if v.openErr != nil {
		return nil, v.openErr
	}
	return &fakeStream{video: v, opener: o}, nil
}

func (o *fakeOpener) closedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type fakeStream struct {
	video  fakeVideo
	opener *fakeOpener
	reads  int
	next   int
	err    error
}

func (s *fakeStream) FPS() float64 { return s.video.fps }

// Next yields solid 4x4 RGB frames whose color encodes the frame index
func (s *fakeStream) Next() (models.Frame, bool) {
	s.reads++
	if s.reads <= s.video.failReads || s.next >= s.video.frames {
		return models.Frame{}, false
	}
	if s.video.badFrame == s.next+1 {
		s.err = extractor.ErrUnsupportedFrame
		return models.Frame{}, false
	}
	idx := s.next
	s.next++

	pix := make([]byte, 4*4*3)
	for i := range pix {
		pix[i] = byte((idx * 20) % 256)
	}
	return models.Frame{
		Width:       4,
		Height:      4,
		Pix:         pix,
		Order:       models.RGB,
		TimestampMs: float64(idx) * 1000 / s.video.fps,
	}, true
}

func (s *fakeStream) Err() error { return s.err }

func (s *fakeStream) Close() error {
	s.opener.mu.Lock()
	defer s.opener.mu.Unlock()
	s.opener.closed++
	return nil
}

// fakeBackbone returns two values per frame that only depend on the frame content
type fakeBackbone struct {
	mu     sync.Mutex
	calls  int
	sizes  []int
	failOn int // 1-based call that fails, 0 never
	onCall func()
}

func (b *fakeBackbone) Embed(_ context.Context, batch *preprocess.Batch) ([][]float32, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	b.sizes = append(b.sizes, batch.Len())
	b.mu.Unlock()

	if b.onCall != nil {
		b.onCall()
	}
	if b.failOn == call {
		return nil, errors.New("out of memory")
	}

	rows := make([][]float32, batch.Len())
	for i := range rows {
		frame := batch.Frame(i)
		rows[i] = []float32{frame[0], frame[len(frame)-1]}
	}
	return rows, nil
}

type fakeHead struct{}

func (fakeHead) Classify(_ context.Context, feats [][]float32) ([][]float32, error) {
	out := make([][]float32, len(feats))
	for i, f := range feats {
		out[i] = []float32{f[0], 0, -1}
	}
	return out, nil
}

type recordingPreview struct {
	mu   sync.Mutex
	rows int
}

func (p *recordingPreview) Show(logits [][]float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows += len(logits)
	return nil
}

// fakeReencoder writes a placeholder file and registers it with the opener
type fakeReencoder struct {
	tmpDir string
	opener *fakeOpener
	frames int
	calls  int
}

func (r *fakeReencoder) Reencode(_ context.Context, videoPath string, fps float64) (string, error) {
	r.calls++
	if err := os.MkdirAll(r.tmpDir, 0755); err != nil {
		return "", err
	}
	dst := extractor.TmpPath(r.tmpDir, videoPath)
	if err := os.WriteFile(dst, []byte("re-encoded"), 0644); err != nil {
		return "", err
	}
	r.opener.add(dst, fakeVideo{fps: fps, frames: r.frames})
	return dst, nil
}

func tmpDirEntries(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, filepath.Join(dir, e.Name()))
	}
	return names
}
